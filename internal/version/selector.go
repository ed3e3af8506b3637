// Package version selects service revisions by semantic-version comparison
// of their tags.
package version

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// Tags such as "2.1.0.beta-1" carry their pre-release suffix after a fourth
// dot rather than a hyphen. Rewrite them to standard semver before parsing.
var dottedSuffix = regexp.MustCompile(`^(\d+\.\d+\.\d+)\.(.+)$`)

// Parse parses a revision tag as a semantic version. Tags that cannot be
// parsed are never considered for "latest" selection.
func Parse(tag string) (*semver.Version, error) {
	v, err := semver.NewVersion(tag)
	if err == nil {
		return v, nil
	}
	if m := dottedSuffix.FindStringSubmatch(tag); m != nil {
		return semver.NewVersion(m[1] + "-" + m[2])
	}
	return nil, err
}

// LatestTag returns the tag with the highest semantic version among those
// that parse. The second return is false when no tag parses.
func LatestTag(tags []string) (string, bool) {
	var (
		bestTag string
		best    *semver.Version
	)
	for _, tag := range tags {
		v, err := Parse(tag)
		if err != nil {
			continue
		}
		// >= so that a later registration wins a precedence tie.
		if best == nil || v.Compare(best) >= 0 {
			best = v
			bestTag = tag
		}
	}
	return bestTag, best != nil
}

// IsLatest reports whether candidate outranks (or ties with) every existing
// tag. An unparseable candidate is never latest.
func IsLatest(candidate string, existing []string) bool {
	cv, err := Parse(candidate)
	if err != nil {
		return false
	}
	for _, tag := range existing {
		v, err := Parse(tag)
		if err != nil {
			continue
		}
		if v.Compare(cv) > 0 {
			return false
		}
	}
	return true
}
