package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/octue/twined-server/internal/serviceusage/domain"
	"github.com/octue/twined-server/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// byDiscriminator filters a question's events by payload discriminator,
// matching the modern "kind" key or the legacy "type" key.
func (s *Service) byDiscriminator(ctx context.Context, questionID uuid.UUID, discriminator string) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&domain.ServiceUsageEvent{}).
		Where("question_id = ?", questionID).
		Where(
			s.db.Where(datatypes.JSONQuery("data").Equals(discriminator, "kind")).
				Or(datatypes.JSONQuery("data").Equals(discriminator, "type")),
		)
}

// singleEvent resolves the projections that expect exactly one row. A
// duplicate delivery yields a stable first match by (publish_time, id) and a
// warning; it is never surfaced as an error.
func (s *Service) singleEvent(ctx context.Context, questionID uuid.UUID, discriminator string) (*domain.ServiceUsageEvent, error) {
	var events []domain.ServiceUsageEvent
	err := s.byDiscriminator(ctx, questionID, discriminator).
		Order("publish_time, id").
		Limit(2).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	switch len(events) {
	case 0:
		return nil, nil
	case 1:
		return &events[0], nil
	default:
		s.metrics.RecordDuplicateProjection(discriminator)
		s.log.Warn("multiple events found where one was expected",
			zap.String("discriminator", discriminator),
			zap.String("question_id", questionID.String()),
		)
		return &events[0], nil
	}
}

func (s *Service) orderedEvents(ctx context.Context, questionID uuid.UUID, discriminator string) ([]domain.ServiceUsageEvent, error) {
	var events []domain.ServiceUsageEvent
	err := s.byDiscriminator(ctx, questionID, discriminator).
		Order("publish_time, id").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Service) DeliveryAcknowledgement(ctx context.Context, questionID uuid.UUID) (*domain.ServiceUsageEvent, error) {
	return s.singleEvent(ctx, questionID, domain.DiscriminatorDeliveryAcknowledgement)
}

func (s *Service) Result(ctx context.Context, questionID uuid.UUID) (*domain.ServiceUsageEvent, error) {
	return s.singleEvent(ctx, questionID, domain.DiscriminatorResult)
}

func (s *Service) Exceptions(ctx context.Context, questionID uuid.UUID) ([]domain.ServiceUsageEvent, error) {
	return s.orderedEvents(ctx, questionID, domain.DiscriminatorException)
}

func (s *Service) LogRecords(ctx context.Context, questionID uuid.UUID) ([]domain.ServiceUsageEvent, error) {
	return s.orderedEvents(ctx, questionID, domain.DiscriminatorLogRecord)
}

func (s *Service) MonitorMessages(ctx context.Context, questionID uuid.UUID) ([]domain.ServiceUsageEvent, error) {
	return s.orderedEvents(ctx, questionID, domain.DiscriminatorMonitorMessage)
}

func (s *Service) LatestHeartbeat(ctx context.Context, questionID uuid.UUID) (*domain.ServiceUsageEvent, error) {
	var event domain.ServiceUsageEvent
	err := s.byDiscriminator(ctx, questionID, domain.DiscriminatorHeartbeat).
		Order("publish_time DESC, id DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (s *Service) EventsForQuestion(ctx context.Context, questionID uuid.UUID) ([]domain.ServiceUsageEvent, error) {
	var events []domain.ServiceUsageEvent
	err := s.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("publish_time, id").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// EventsPage returns one cursor page of the question's events. The cursor
// encodes the (publish_time, id) position just past the previous page.
func (s *Service) EventsPage(ctx context.Context, questionID uuid.UUID, page pagination.Pagination) ([]domain.ServiceUsageEvent, *pagination.PageInfo, error) {
	limit := page.Limit()

	q := s.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("publish_time, id").
		Limit(limit + 1)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, domain.ErrInvalidPageToken
		}
		q = q.Where(
			"publish_time > ? OR (publish_time = ? AND id > ?)",
			cursor.PublishTime, cursor.PublishTime, cursor.ID,
		)
	}

	var events []domain.ServiceUsageEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, nil, err
	}

	info := &pagination.PageInfo{}
	if len(events) > limit {
		events = events[:limit]
		last := events[len(events)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:          last.ID,
			PublishTime: last.PublishTime,
		})
		if err != nil {
			return nil, nil, err
		}
		info.HasMore = true
		info.NextPageToken = token
	}
	return events, info, nil
}

func (s *Service) CountForQuestion(ctx context.Context, questionID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.ServiceUsageEvent{}).
		Where("question_id = ?", questionID).
		Count(&count).Error
	return count, err
}
