package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var eventIDPattern = regexp.MustCompile(`^[0-9]+(-[0-9]+)?$`)

// Event is one entry of a job's progress stream. Data is kept verbatim as it
// was stored so replays are byte-for-byte identical.
type Event struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// Valid reports whether the stored payload is a well-formed JSON object.
func (e Event) Valid() bool {
	if !strings.HasPrefix(strings.TrimLeft(e.Data, " \t\r\n"), "{") {
		return false
	}
	return json.Valid([]byte(e.Data))
}

// ValidEventID reports whether id is empty or a stream entry id of the form
// "ms" or "ms-seq".
func ValidEventID(id string) bool {
	return id == "" || eventIDPattern.MatchString(id)
}

const (
	ProgressDone   = "done"
	ProgressFailed = "failed"
)

// Progress is the canonical payload appended by pipeline stages.
type Progress struct {
	Progress string `json:"progress,omitempty"`
	Status   string `json:"status,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// EventsKey returns the Redis stream key holding progress for streamID.
func EventsKey(streamID string) string {
	return fmt.Sprintf("job:%s:events", streamID)
}
