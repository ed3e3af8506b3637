package domain_test

import (
	"testing"

	"github.com/octue/twined-server/internal/servicerevision/domain"
	"github.com/stretchr/testify/assert"
)

func TestSRUID(t *testing.T) {
	tests := []struct {
		name     string
		revision domain.ServiceRevision
		want     string
	}{
		{
			name:     "full triple",
			revision: domain.ServiceRevision{Namespace: "octue", Name: "example-service", Tag: "1.0.0"},
			want:     "octue/example-service:1.0.0",
		},
		{
			name:     "no namespace",
			revision: domain.ServiceRevision{Name: "gibbon-analyser", Tag: "0.5.1"},
			want:     "gibbon-analyser:0.5.1",
		},
		{
			name:     "no tag",
			revision: domain.ServiceRevision{Namespace: "octue", Name: "gibbon-analyser"},
			want:     "octue/gibbon-analyser",
		},
		{
			name:     "bare name",
			revision: domain.ServiceRevision{Name: "gibbon-analyser"},
			want:     "gibbon-analyser",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.revision.SRUID())
		})
	}
}

func TestTopic(t *testing.T) {
	revision := domain.ServiceRevision{Namespace: "octue", Name: "example-service", Tag: "2.1.0.beta-1"}
	assert.Equal(t, "octue.services.octue.example-service.2-1-0-beta-1", revision.Topic())

	bare := domain.ServiceRevision{Name: "gibbon-analyser"}
	assert.Equal(t, "octue.services.gibbon-analyser", bare.Topic())
}
