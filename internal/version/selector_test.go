package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLatest(t *testing.T) {
	tests := []struct {
		name      string
		existing  []string
		candidate string
		want      bool
	}{
		{
			name:      "plain versions",
			existing:  []string{"0.1.0", "2.1.0"},
			candidate: "11.1.0",
			want:      true,
		},
		{
			name:      "candidate outranks pre-releases",
			existing:  []string{"2.1.0.beta-1", "2.1.0.beta-2"},
			candidate: "2.2.0",
			want:      true,
		},
		{
			name:      "release outranks pre-release at equal precedence",
			existing:  []string{"2.1.0.beta-1", "2.1.0.beta-2"},
			candidate: "2.1.0",
			want:      true,
		},
		{
			name:      "pre-release suffixes order alphabetically",
			existing:  []string{"2.1.0.beta-1", "2.1.0.beta-2"},
			candidate: "2.1.0.beta-3",
			want:      true,
		},
		{
			name:      "older pre-release is not latest",
			existing:  []string{"2.1.0.beta-2"},
			candidate: "2.1.0.beta-1",
			want:      false,
		},
		{
			name:      "unparseable candidate is never latest",
			existing:  []string{"0.1.0", "2.1.0"},
			candidate: "hello",
			want:      false,
		},
		{
			name:      "older numeric version is not latest",
			existing:  []string{"2.1.0"},
			candidate: "1.9.9",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLatest(tt.candidate, tt.existing))
		})
	}
}

func TestLatestTag(t *testing.T) {
	tag, ok := LatestTag([]string{"0.1.0", "2.1.0", "1.0.0"})
	assert.True(t, ok)
	assert.Equal(t, "2.1.0", tag)

	tag, ok = LatestTag([]string{"2.1.0.beta-1", "2.1.0.beta-2"})
	assert.True(t, ok)
	assert.Equal(t, "2.1.0.beta-2", tag)

	// Unparseable tags are excluded from comparison.
	tag, ok = LatestTag([]string{"hello", "0.2.0"})
	assert.True(t, ok)
	assert.Equal(t, "0.2.0", tag)

	_, ok = LatestTag([]string{"hello", "main"})
	assert.False(t, ok)
}
