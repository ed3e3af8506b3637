package service

import (
	"context"

	"github.com/google/uuid"
	obsmetrics "github.com/octue/twined-server/internal/observability/metrics"
	"github.com/octue/twined-server/internal/serviceusage/domain"
	"github.com/octue/twined-server/internal/serviceusage/notify"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Discriminators with a dedicated notification stream.
var knownDiscriminators = map[string]struct{}{
	domain.DiscriminatorDeliveryAcknowledgement: {},
	domain.DiscriminatorException:               {},
	domain.DiscriminatorHeartbeat:               {},
	domain.DiscriminatorLogRecord:               {},
	domain.DiscriminatorMonitorMessage:          {},
	domain.DiscriminatorResult:                  {},
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Hub     *notify.Hub
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	hub     *notify.Hub
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("serviceusage.service"),

		hub:     p.Hub,
		metrics: p.Metrics,
	}
}

// Ingest persists one decoded envelope and notifies subscribers of its
// discriminator. Redelivered envelopes each create a new row; readers
// resolve duplicates. An unrecognised discriminator is still persisted and
// surfaces on the unknown stream so classification misses never lose data.
func (s *Service) Ingest(ctx context.Context, kind string, questionID uuid.UUID, envelope domain.Envelope, routing domain.RoutingParams) (*domain.ServiceUsageEvent, error) {
	switch kind {
	case domain.KindQuestionAsked, domain.KindQuestionResponseUpdated:
	default:
		// Not a tracker event; other subsystems share the callback endpoint.
		return nil, nil
	}

	if questionID == uuid.Nil {
		return nil, domain.ErrInvalidQuestion
	}
	if routing.ServiceRevisionID == 0 {
		return nil, domain.ErrInvalidRevision
	}
	if envelope.Data == nil {
		return nil, domain.ErrInvalidPayload
	}

	event := &domain.ServiceUsageEvent{
		Data:              datatypes.JSONMap(envelope.Data),
		Kind:              kind,
		PublishTime:       envelope.PublishTime.UTC(),
		QuestionID:        questionID,
		ServiceRevisionID: routing.ServiceRevisionID,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}

	discriminator := event.Discriminator()
	if _, ok := knownDiscriminators[discriminator]; ok {
		s.metrics.RecordEventIngested(discriminator)
		s.hub.Publish(discriminator, notify.Notification{Event: event, Discriminator: discriminator})
	} else {
		s.metrics.RecordUnknownDiscriminator()
		s.log.Warn("event with unrecognised discriminator recorded",
			zap.String("discriminator", discriminator),
			zap.String("question_id", questionID.String()),
			zap.String("message_id", envelope.MessageID),
		)
		s.hub.Publish(notify.StreamUnknown, notify.Notification{Event: event, Discriminator: discriminator})
	}

	return event, nil
}
