package domain

import (
	"context"
	"sync"
)

// InputResolver fetches or computes a question's values and manifests from
// wherever a concrete question type keeps them. Deployments register a
// resolver per question type instead of subclassing the entity.
type InputResolver interface {
	InputValues(ctx context.Context, q *Question) (map[string]any, error)
	InputManifest(ctx context.Context, q *Question) (map[string]any, error)
	OutputValues(ctx context.Context, q *Question) (map[string]any, error)
	OutputManifest(ctx context.Context, q *Question) (map[string]any, error)
}

// QuestionType binds a resolver kind to its resolver and the allow-list of
// fields copied when a question is duplicated. Asked, answered and status
// are always reset on a duplicate regardless of the list.
type QuestionType struct {
	Resolver        InputResolver
	DuplicateFields []string
}

// TypeRegistry maps resolver kinds to question types.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]QuestionType
}

func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{types: make(map[string]QuestionType)}
	r.Register(ResolverDatabase, QuestionType{
		Resolver: DatabaseResolver{},
		DuplicateFields: []string{
			"service_revision_id",
			"input_values",
			"input_manifest",
		},
	})
	return r
}

func (r *TypeRegistry) Register(kind string, t QuestionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[kind] = t
}

func (r *TypeRegistry) Get(kind string) (QuestionType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[kind]
	return t, ok
}

// DatabaseResolver reads values straight off the question row's own JSON
// columns.
type DatabaseResolver struct{}

func (DatabaseResolver) InputValues(_ context.Context, q *Question) (map[string]any, error) {
	return q.InputValues, nil
}

func (DatabaseResolver) InputManifest(_ context.Context, q *Question) (map[string]any, error) {
	return q.InputManifest, nil
}

func (DatabaseResolver) OutputValues(_ context.Context, q *Question) (map[string]any, error) {
	return q.OutputValues, nil
}

func (DatabaseResolver) OutputManifest(_ context.Context, q *Question) (map[string]any, error) {
	return q.OutputManifest, nil
}
