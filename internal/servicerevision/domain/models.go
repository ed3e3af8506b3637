// Package domain contains the service revision registry entities.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
)

// TopicPrefix namespaces every service topic on the bus.
const TopicPrefix = "octue.services"

// ServiceRevision registers one deployable version of a remote service,
// identified by the (namespace, name, tag) triple. At most one revision per
// (namespace, name) may be the default.
type ServiceRevision struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Namespace string       `gorm:"type:text;not null;uniqueIndex:uniq_service_revision_identifier,priority:1" json:"namespace"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:uniq_service_revision_identifier,priority:2" json:"name"`
	Tag       string       `gorm:"type:text;not null;uniqueIndex:uniq_service_revision_identifier,priority:3" json:"tag"`
	IsDefault bool         `gorm:"not null;default:false" json:"is_default"`

	// Project is opaque backend-routing metadata for the bus provider.
	Project string `gorm:"type:text" json:"project"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ServiceRevision) TableName() string { return "service_revisions" }

// SRUID returns the Service Revision Unique Identifier, e.g.
// "octue/example-service:1.0.0". Empty namespace and tag segments are
// omitted, so a bare name is itself a valid sruid.
func (r *ServiceRevision) SRUID() string {
	var b strings.Builder
	if r.Namespace != "" {
		b.WriteString(r.Namespace)
		b.WriteString("/")
	}
	b.WriteString(r.Name)
	if r.Tag != "" {
		b.WriteString(":")
		b.WriteString(r.Tag)
	}
	return b.String()
}

// Topic returns the transport-safe bus address for this revision. Each sruid
// segment is slugified so characters like "." in tags survive topic naming
// rules, then segments are joined with dots under the service prefix.
func (r *ServiceRevision) Topic() string {
	segments := make([]string, 0, 4)
	segments = append(segments, TopicPrefix)
	for _, segment := range []string{r.Namespace, r.Name, r.Tag} {
		if segment == "" {
			continue
		}
		segments = append(segments, slug.Make(segment))
	}
	return strings.Join(segments, ".")
}

func (r *ServiceRevision) String() string { return r.SRUID() }
