// Package domain declares the message-bus boundary used to dispatch
// questions to remote service revisions.
package domain

import (
	"context"
	"time"
)

// AskRequest carries one question dispatch.
type AskRequest struct {
	// Topic is the transport-safe address of the target service revision.
	Topic string

	QuestionID    string
	InputValues   map[string]any
	InputManifest map[string]any

	// PushEndpoint is the absolute URL response events must be delivered to.
	PushEndpoint string

	AskerName string

	// Project is the backend project the target service runs in, carried
	// to the remote service in the question payload.
	Project string

	// Brokers overrides the bus endpoints for this dispatch. Empty means
	// the transport's defaults.
	Brokers []string

	Timeout time.Duration
}

// Subscription is the handle returned by the bus for a dispatched question.
// Response events for the question are delivered to the push endpoint, not
// pulled from the subscription.
type Subscription struct {
	ID           string
	Topic        string
	PushEndpoint string
}

// Transport is the ask primitive of the underlying publish/subscribe bus.
type Transport interface {
	Ask(ctx context.Context, req AskRequest) (Subscription, error)
}
