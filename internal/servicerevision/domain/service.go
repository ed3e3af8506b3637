package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	transportdomain "github.com/octue/twined-server/internal/transport/domain"
)

// RegisterRequest creates a new revision row. Namespace, tag and project fall
// back to configured defaults when empty.
type RegisterRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Tag       string `json:"revision_tag"`
	IsDefault bool   `json:"is_default"`
	Project   string `json:"project"`
}

// AskParams carries one question dispatch through the registry.
type AskParams struct {
	QuestionID    string
	InputValues   map[string]any
	InputManifest map[string]any

	// PushURL overrides the generated callback address. Leave empty unless
	// the endpoint also implements full envelope handling.
	PushURL string
}

// Registry is the durable mapping of service addresses to revisions.
type Registry interface {
	Register(ctx context.Context, req RegisterRequest) (*ServiceRevision, error)
	Get(ctx context.Context, namespace, name, tag string) (*ServiceRevision, error)
	GetByID(ctx context.Context, id snowflake.ID) (*ServiceRevision, error)
	List(ctx context.Context, namespace, name string) ([]ServiceRevision, error)
	SelectDefault(ctx context.Context, namespace, name string) (*ServiceRevision, error)
	SelectLatest(ctx context.Context, namespace, name string) (*ServiceRevision, error)
	Ask(ctx context.Context, revision *ServiceRevision, params AskParams) (transportdomain.Subscription, string, error)
}

var (
	ErrNotFound         = errors.New("service_revision_not_found")
	ErrConflict         = errors.New("service_revision_exists")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidNamespace = errors.New("invalid_namespace")
	ErrInvalidTag       = errors.New("invalid_tag")
	ErrDispatchFailed   = errors.New("dispatch_failed")
)
