package record

import (
	"strings"
	"time"
)

const artifactTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Artifact is the finished output of one recording session.
type Artifact struct {
	SessionID string
	Name      string
	Path      string
	StartedAt time.Time
	StoppedAt time.Time
}

// ArtifactName is meeting_<UTC ISO-8601 timestamp with ':' replaced by '-'>.webm.
func ArtifactName(t time.Time) string {
	stamp := strings.ReplaceAll(t.UTC().Format(artifactTimeLayout), ":", "-")
	return "meeting_" + stamp + ".webm"
}
