// Package domain contains the append-only service usage event ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Transport-level event kinds. Only the first two are recorded by the
// ingestor; anything else on the callback endpoint belongs to another
// subsystem.
const (
	KindQuestionAsked           = "q-asked"
	KindQuestionResponseUpdated = "q-response-updated"
	KindQuestionStatusUpdated   = "q-status-updated"
)

// KindLabels maps event kinds to display labels.
var KindLabels = map[string]string{
	KindQuestionAsked:           "Question asked",
	KindQuestionResponseUpdated: "Question response updated",
	KindQuestionStatusUpdated:   "Question status updated",
}

// Fine-grained discriminators embedded in event payloads under "kind" (or
// the legacy "type" key).
const (
	DiscriminatorDeliveryAcknowledgement = "delivery_acknowledgement"
	DiscriminatorException               = "exception"
	DiscriminatorHeartbeat               = "heartbeat"
	DiscriminatorLogRecord               = "log_record"
	DiscriminatorMonitorMessage          = "monitor_message"
	DiscriminatorResult                  = "result"
)

// ServiceUsageEvent records one inbound occurrence tied to a question and
// the revision that produced it. Rows are immutable: no update or delete is
// exposed, and the auto-increment id gives a stable insertion-order
// tie-break within a question.
type ServiceUsageEvent struct {
	ID          int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	Data        datatypes.JSONMap `gorm:"not null" json:"data"`
	Kind        string            `gorm:"type:text;not null" json:"kind"`
	PublishTime time.Time         `gorm:"not null;index:idx_usage_event_question_publish,priority:2" json:"publish_time"`

	QuestionID        uuid.UUID    `gorm:"type:uuid;not null;index:idx_usage_event_question_publish,priority:1" json:"question_id"`
	ServiceRevisionID snowflake.ID `gorm:"not null;index" json:"service_revision_id"`
}

// TableName sets the database table name.
func (ServiceUsageEvent) TableName() string { return "service_usage_events" }

// Discriminator returns the payload's fine-grained type, honouring the
// modern "kind" key with fallback to the legacy "type" key. Empty when the
// payload carries neither.
func (e *ServiceUsageEvent) Discriminator() string {
	if v, ok := e.Data["kind"].(string); ok && v != "" {
		return v
	}
	if v, ok := e.Data["type"].(string); ok && v != "" {
		return v
	}
	return ""
}

// Envelope is the decoded form of one inbound push delivery: the payload,
// its publish timestamp and the bus message id. The caller has already
// base64-decoded the data and parsed the timestamp from the provider
// envelope.
type Envelope struct {
	Data        map[string]any
	PublishTime time.Time

	// MessageID is carried for logging only. Redeliveries are not
	// deduplicated; readers resolve duplicates instead.
	MessageID string
}

// RoutingParams carries the routing query parameters embedded in the push
// URL at dispatch time, letting an event be attributed to its revision
// without a second lookup.
type RoutingParams struct {
	ServiceRevisionID snowflake.ID
	SRUID             string
}
