package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/octue/twined-server/internal/clock"
	"github.com/octue/twined-server/internal/question/domain"
	srdomain "github.com/octue/twined-server/internal/servicerevision/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Types    *domain.TypeRegistry
	Registry srdomain.Registry
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock    clock.Clock
	types    *domain.TypeRegistry
	registry srdomain.Registry
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("question.service"),

		clock:    p.Clock,
		types:    p.Types,
		registry: p.Registry,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Question, error) {
	resolver := strings.TrimSpace(req.Resolver)
	if resolver == "" {
		resolver = domain.ResolverDatabase
	}

	question := &domain.Question{
		ID:       uuid.New(),
		Status:   domain.StatusNone,
		Resolver: resolver,
	}
	if req.InputValues != nil {
		question.InputValues = datatypes.JSONMap(req.InputValues)
	}
	if req.InputManifest != nil {
		question.InputManifest = datatypes.JSONMap(req.InputManifest)
	}

	if req.ServiceRevisionID != "" {
		id, err := snowflake.ParseString(strings.TrimSpace(req.ServiceRevisionID))
		if err != nil || id == 0 {
			return nil, domain.ErrInvalidRequest
		}
		revision, err := s.registry.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, srdomain.ErrNotFound) {
				return nil, domain.ErrNoServiceRevision
			}
			return nil, err
		}
		question.ServiceRevisionID = &revision.ID
	}

	if err := s.db.WithContext(ctx).Create(question).Error; err != nil {
		return nil, err
	}
	return question, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Question, error) {
	var question domain.Question
	err := s.db.WithContext(ctx).First(&question, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &question, nil
}

// Ask dispatches the question to its service revision and stamps asked.
// A dispatch failure leaves asked unset, so retrying Ask is safe.
func (s *Service) Ask(ctx context.Context, id uuid.UUID) (*domain.AskResult, error) {
	question, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if question.Asked != nil {
		return nil, domain.ErrAlreadyAsked
	}
	if question.ServiceRevisionID == nil {
		return nil, domain.ErrNoServiceRevision
	}

	questionType, ok := s.types.Get(question.Resolver)
	if !ok || questionType.Resolver == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrNotImplemented, question.Resolver)
	}

	revision, err := s.registry.GetByID(ctx, *question.ServiceRevisionID)
	if err != nil {
		if errors.Is(err, srdomain.ErrNotFound) {
			return nil, domain.ErrNoServiceRevision
		}
		return nil, err
	}

	inputValues, err := questionType.Resolver.InputValues(ctx, question)
	if err != nil {
		return nil, err
	}
	inputManifest, err := questionType.Resolver.InputManifest(ctx, question)
	if err != nil {
		return nil, err
	}

	subscription, pushURL, err := s.registry.Ask(ctx, revision, srdomain.AskParams{
		QuestionID:    question.ID.String(),
		InputValues:   inputValues,
		InputManifest: inputManifest,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	question.Asked = &now
	question.Status = domain.StatusInProgress
	err = s.db.WithContext(ctx).Model(question).
		Updates(map[string]any{"asked": now, "status": domain.StatusInProgress}).Error
	if err != nil {
		return nil, err
	}

	s.log.Info("question asked",
		zap.String("question_id", question.ID.String()),
		zap.String("sruid", revision.SRUID()),
	)
	return &domain.AskResult{
		Question:     question,
		Revision:     revision,
		Subscription: subscription,
		PushURL:      pushURL,
	}, nil
}

// Duplicate copies only the question type's declared duplicate fields into a
// new question. Asked, answered and status always reset.
func (s *Service) Duplicate(ctx context.Context, id uuid.UUID, save bool) (*domain.Question, error) {
	question, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	questionType, ok := s.types.Get(question.Resolver)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrNotImplemented, question.Resolver)
	}

	duplicate := &domain.Question{
		ID:       uuid.New(),
		Status:   domain.StatusNone,
		Resolver: question.Resolver,
	}
	for _, field := range questionType.DuplicateFields {
		copyQuestionField(duplicate, question, field)
	}

	if save {
		if err := s.db.WithContext(ctx).Create(duplicate).Error; err != nil {
			return nil, err
		}
	}
	return duplicate, nil
}

func copyQuestionField(dst, src *domain.Question, field string) {
	switch field {
	case "service_revision_id":
		dst.ServiceRevisionID = src.ServiceRevisionID
	case "input_values":
		dst.InputValues = src.InputValues
	case "input_manifest":
		dst.InputManifest = src.InputManifest
	case "output_values":
		dst.OutputValues = src.OutputValues
	case "output_manifest":
		dst.OutputManifest = src.OutputManifest
	}
}

func (s *Service) MarkAnswered(ctx context.Context, id uuid.UUID, status int, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.Question{}).
		Where("id = ?", id).
		Updates(map[string]any{"answered": at.UTC(), "status": status})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status int) error {
	result := s.db.WithContext(ctx).Model(&domain.Question{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
