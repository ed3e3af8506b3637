// Package domain contains the question entity and the input resolver
// contract concrete question types satisfy.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Question statuses. Negative values are failure modes.
const (
	StatusNone       = -100
	StatusBadInput   = -3
	StatusTimeout    = -2
	StatusError      = -1
	StatusInProgress = 0
	StatusSuccess    = 1
)

// StatusMessages maps statuses to short display text.
var StatusMessages = map[int]string{
	StatusNone:       "No status",
	StatusBadInput:   "Failed (invalid inputs)",
	StatusTimeout:    "Failed (timeout)",
	StatusError:      "Failed (error)",
	StatusInProgress: "In progress",
	StatusSuccess:    "Complete",
}

// ResolverDatabase is the built-in resolver kind for questions that store
// their own values in the row's JSON columns.
const ResolverDatabase = "database"

// Question is one request asked of exactly one service revision. The
// resolver column discriminates which registered question type interprets
// the row; asked is stamped exactly once, on successful dispatch. Once asked
// is set the question and its inputs are treated as immutable.
type Question struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Asked    *time.Time `json:"asked"`
	Answered *time.Time `json:"answered"`
	Status   int        `gorm:"not null;default:-100" json:"status"`

	ServiceRevisionID *snowflake.ID `gorm:"index" json:"service_revision_id"`

	Resolver string `gorm:"type:text;not null;default:database" json:"resolver"`

	InputValues    datatypes.JSONMap `json:"input_values"`
	InputManifest  datatypes.JSONMap `json:"input_manifest"`
	OutputValues   datatypes.JSONMap `json:"output_values"`
	OutputManifest datatypes.JSONMap `json:"output_manifest"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Question) TableName() string { return "questions" }

// StatusMessage returns the display text for the question's status.
func (q *Question) StatusMessage() string {
	if msg, ok := StatusMessages[q.Status]; ok {
		return msg
	}
	return StatusMessages[StatusNone]
}

func (q *Question) String() string { return q.ID.String() }
