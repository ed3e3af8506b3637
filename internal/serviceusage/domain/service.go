package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/octue/twined-server/pkg/db/pagination"
)

// Ingestor records decoded event envelopes against their question.
type Ingestor interface {
	// Ingest persists one envelope. Kinds outside the tracker's two
	// dispatch-level kinds return (nil, nil) without recording anything.
	Ingest(ctx context.Context, kind string, questionID uuid.UUID, envelope Envelope, routing RoutingParams) (*ServiceUsageEvent, error)
}

// Views are the read-side projections over a question's event set. All are
// pure queries; results reflect exactly the rows committed at call time.
type Views interface {
	// DeliveryAcknowledgement returns the single acknowledgement event, or
	// nil when none exists. Duplicate deliveries resolve to a stable first
	// match with a warning, never an error.
	DeliveryAcknowledgement(ctx context.Context, questionID uuid.UUID) (*ServiceUsageEvent, error)
	// Result follows the same single-row, duplicate-tolerant pattern.
	Result(ctx context.Context, questionID uuid.UUID) (*ServiceUsageEvent, error)
	Exceptions(ctx context.Context, questionID uuid.UUID) ([]ServiceUsageEvent, error)
	LogRecords(ctx context.Context, questionID uuid.UUID) ([]ServiceUsageEvent, error)
	MonitorMessages(ctx context.Context, questionID uuid.UUID) ([]ServiceUsageEvent, error)
	// LatestHeartbeat returns the most recent heartbeat by publish time, or
	// nil when none exists.
	LatestHeartbeat(ctx context.Context, questionID uuid.UUID) (*ServiceUsageEvent, error)
	// EventsForQuestion returns every recorded event for the question in
	// publish order.
	EventsForQuestion(ctx context.Context, questionID uuid.UUID) ([]ServiceUsageEvent, error)
	// EventsPage returns one cursor page of the question's events in
	// publish order.
	EventsPage(ctx context.Context, questionID uuid.UUID, page pagination.Pagination) ([]ServiceUsageEvent, *pagination.PageInfo, error)
	// CountForQuestion returns the total number of recorded events.
	CountForQuestion(ctx context.Context, questionID uuid.UUID) (int64, error)
}

var (
	ErrInvalidQuestion  = errors.New("invalid_question")
	ErrInvalidRevision  = errors.New("invalid_revision")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
