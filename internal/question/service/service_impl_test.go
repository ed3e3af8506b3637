package service_test

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/octue/twined-server/internal/clock"
	"github.com/octue/twined-server/internal/config"
	"github.com/octue/twined-server/internal/question/domain"
	"github.com/octue/twined-server/internal/question/service"
	srdomain "github.com/octue/twined-server/internal/servicerevision/domain"
	srservice "github.com/octue/twined-server/internal/servicerevision/service"
	transportdomain "github.com/octue/twined-server/internal/transport/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Ask(ctx context.Context, req transportdomain.AskRequest) (transportdomain.Subscription, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(transportdomain.Subscription), args.Error(1)
}

type fixture struct {
	db        *gorm.DB
	transport *mockTransport
	clock     *clock.FakeClock
	registry  srdomain.Registry
	questions domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_question_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(&srdomain.ServiceRevision{}, &domain.Question{})
	assert.NoError(t, err)

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	transport := &mockTransport{}
	cfg := config.Config{
		DefaultNamespace: "octue",
		DefaultTag:       "latest",
		BaseURL:          "http://callbacks.local",
		AskerName:        "twined",
		AskTimeout:       time.Minute,
	}
	registry := srservice.NewService(srservice.ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Cfg:       cfg,
		Transport: transport,
	})

	fakeClock := clock.NewFakeClock(time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC))
	questions := service.NewService(service.ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fakeClock,
		Types:    domain.NewTypeRegistry(),
		Registry: registry,
	})

	return &fixture{
		db:        db,
		transport: transport,
		clock:     fakeClock,
		registry:  registry,
		questions: questions,
	}
}

func (f *fixture) registerRevision(t *testing.T) *srdomain.ServiceRevision {
	t.Helper()
	revision, err := f.registry.Register(context.Background(), srdomain.RegisterRequest{
		Name: "example-service",
		Tag:  "1.0.0",
	})
	assert.NoError(t, err)
	return revision
}

func (f *fixture) createQuestion(t *testing.T, revision *srdomain.ServiceRevision) *domain.Question {
	t.Helper()
	req := domain.CreateRequest{
		InputValues:   map[string]any{"height": float64(3)},
		InputManifest: map[string]any{"datasets": []any{"gs://bucket/met-mast"}},
	}
	if revision != nil {
		req.ServiceRevisionID = revision.ID.String()
	}
	question, err := f.questions.Create(context.Background(), req)
	assert.NoError(t, err)
	return question
}

func TestCreateDefaultsResolver(t *testing.T) {
	f := newFixture(t)

	question := f.createQuestion(t, f.registerRevision(t))
	assert.Equal(t, domain.ResolverDatabase, question.Resolver)
	assert.Equal(t, domain.StatusNone, question.Status)
	assert.Nil(t, question.Asked)
	assert.Nil(t, question.Answered)
}

func TestCreateRejectsUnknownRevision(t *testing.T) {
	f := newFixture(t)

	_, err := f.questions.Create(context.Background(), domain.CreateRequest{
		ServiceRevisionID: "999999999",
	})
	assert.ErrorIs(t, err, domain.ErrNoServiceRevision)

	_, err = f.questions.Create(context.Background(), domain.CreateRequest{
		ServiceRevisionID: "not-a-snowflake",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestAskStampsAskedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	revision := f.registerRevision(t)
	question := f.createQuestion(t, revision)

	// The database resolver hands the stored payloads to the transport as-is.
	f.transport.On("Ask", mock.Anything, mock.MatchedBy(func(req transportdomain.AskRequest) bool {
		return req.QuestionID == question.ID.String() &&
			req.Topic == revision.Topic() &&
			reflect.DeepEqual(req.InputValues, map[string]any{"height": float64(3)}) &&
			reflect.DeepEqual(req.InputManifest, map[string]any{"datasets": []any{"gs://bucket/met-mast"}})
	})).Return(transportdomain.Subscription{ID: "sub-1"}, nil).Once()

	result, err := f.questions.Ask(ctx, question.ID)
	assert.NoError(t, err)
	assert.Equal(t, "sub-1", result.Subscription.ID)
	assert.Equal(t, domain.StatusInProgress, result.Question.Status)
	if assert.NotNil(t, result.Question.Asked) {
		assert.True(t, result.Question.Asked.Equal(f.clock.Now()))
	}

	stored, err := f.questions.Get(ctx, question.ID)
	assert.NoError(t, err)
	assert.NotNil(t, stored.Asked)
	assert.Equal(t, domain.StatusInProgress, stored.Status)

	// A second ask is rejected and does not dispatch again.
	_, err = f.questions.Ask(ctx, question.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyAsked)
	f.transport.AssertNumberOfCalls(t, "Ask", 1)
}

func TestAskWithoutRevision(t *testing.T) {
	f := newFixture(t)
	question := f.createQuestion(t, nil)

	_, err := f.questions.Ask(context.Background(), question.ID)
	assert.ErrorIs(t, err, domain.ErrNoServiceRevision)
}

func TestAskDispatchFailureLeavesAskedUnset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	question := f.createQuestion(t, f.registerRevision(t))

	f.transport.On("Ask", mock.Anything, mock.Anything).
		Return(transportdomain.Subscription{}, assert.AnError).Once()

	_, err := f.questions.Ask(ctx, question.ID)
	assert.ErrorIs(t, err, srdomain.ErrDispatchFailed)

	stored, err := f.questions.Get(ctx, question.ID)
	assert.NoError(t, err)
	assert.Nil(t, stored.Asked)
	assert.Equal(t, domain.StatusNone, stored.Status)

	// The failed dispatch left the question askable; a retry succeeds.
	f.transport.On("Ask", mock.Anything, mock.Anything).
		Return(transportdomain.Subscription{ID: "sub-2"}, nil).Once()

	result, err := f.questions.Ask(ctx, question.ID)
	assert.NoError(t, err)
	assert.NotNil(t, result.Question.Asked)
}

func TestAskUnregisteredResolver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	revision := f.registerRevision(t)

	question, err := f.questions.Create(ctx, domain.CreateRequest{
		ServiceRevisionID: revision.ID.String(),
		Resolver:          "bespoke",
	})
	assert.NoError(t, err)

	_, err = f.questions.Ask(ctx, question.ID)
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
}

func TestDuplicateCopiesOnlyDeclaredFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	revision := f.registerRevision(t)
	question := f.createQuestion(t, revision)

	f.transport.On("Ask", mock.Anything, mock.Anything).
		Return(transportdomain.Subscription{ID: "sub-1"}, nil).Once()
	_, err := f.questions.Ask(ctx, question.ID)
	assert.NoError(t, err)

	duplicate, err := f.questions.Duplicate(ctx, question.ID, true)
	assert.NoError(t, err)
	assert.NotEqual(t, question.ID, duplicate.ID)
	assert.Equal(t, question.Resolver, duplicate.Resolver)
	if assert.NotNil(t, duplicate.ServiceRevisionID) {
		assert.Equal(t, revision.ID, *duplicate.ServiceRevisionID)
	}
	assert.Equal(t, question.InputValues, duplicate.InputValues)
	assert.Nil(t, duplicate.Asked)
	assert.Nil(t, duplicate.Answered)
	assert.Equal(t, domain.StatusNone, duplicate.Status)

	stored, err := f.questions.Get(ctx, duplicate.ID)
	assert.NoError(t, err)
	assert.Nil(t, stored.Asked)
}

func TestDuplicateWithoutSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	question := f.createQuestion(t, f.registerRevision(t))

	duplicate, err := f.questions.Duplicate(ctx, question.ID, false)
	assert.NoError(t, err)

	_, err = f.questions.Get(ctx, duplicate.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkAnsweredAndUpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	question := f.createQuestion(t, f.registerRevision(t))

	answeredAt := time.Date(2023, 5, 1, 12, 30, 0, 0, time.UTC)
	err := f.questions.MarkAnswered(ctx, question.ID, domain.StatusSuccess, answeredAt)
	assert.NoError(t, err)

	stored, err := f.questions.Get(ctx, question.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	if assert.NotNil(t, stored.Answered) {
		assert.True(t, stored.Answered.Equal(answeredAt))
	}

	err = f.questions.UpdateStatus(ctx, question.ID, domain.StatusError)
	assert.NoError(t, err)

	stored, err = f.questions.Get(ctx, question.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)

	err = f.questions.MarkAnswered(ctx, uuid.New(), domain.StatusSuccess, answeredAt)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
