package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	srdomain "github.com/octue/twined-server/internal/servicerevision/domain"
	transportdomain "github.com/octue/twined-server/internal/transport/domain"
)

// CreateRequest creates a question ready to be asked.
type CreateRequest struct {
	ServiceRevisionID string         `json:"service_revision_id"`
	Resolver          string         `json:"resolver"`
	InputValues       map[string]any `json:"input_values"`
	InputManifest     map[string]any `json:"input_manifest"`
}

// AskResult is everything a caller needs after a successful dispatch.
type AskResult struct {
	Question     *Question
	Revision     *srdomain.ServiceRevision
	Subscription transportdomain.Subscription
	PushURL      string
}

// Service manages the question lifecycle from creation through dispatch.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Question, error)
	Get(ctx context.Context, id uuid.UUID) (*Question, error)
	// Ask resolves the target revision and inputs, dispatches the question
	// and stamps asked exactly once. Re-asking an already-asked question is
	// rejected with ErrAlreadyAsked.
	Ask(ctx context.Context, id uuid.UUID) (*AskResult, error)
	// Duplicate creates a sibling question copying only the type's declared
	// duplicate fields; asked, answered and status are always reset.
	Duplicate(ctx context.Context, id uuid.UUID, save bool) (*Question, error)
	// MarkAnswered stamps answered and the terminal status for a question.
	MarkAnswered(ctx context.Context, id uuid.UUID, status int, at time.Time) error
	// UpdateStatus changes the status without touching answered.
	UpdateStatus(ctx context.Context, id uuid.UUID, status int) error
}

var (
	ErrNotFound          = errors.New("question_not_found")
	ErrAlreadyAsked      = errors.New("question_already_asked")
	ErrNoServiceRevision = errors.New("question_missing_service_revision")
	// ErrNotImplemented is the programming-contract violation raised when a
	// question's resolver kind has no registered resolver.
	ErrNotImplemented = errors.New("resolver_not_implemented")
	ErrInvalidRequest = errors.New("invalid_request")
)
