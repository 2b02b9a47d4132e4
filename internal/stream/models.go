package stream

import "time"

// StreamID uniquely identifies one conversion job.
type StreamID string

// Status describes where a conversion job is in its lifecycle.
// Transitions are forward-only:
//
//	starting -> active -> stopped
//	starting -> failed
//	active   -> failed
//
// failed and stopped are terminal; a record is never resurrected.
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// terminal reports whether a status permits no further transitions.
func (s Status) terminal() bool {
	return s == StatusFailed || s == StatusStopped
}

// Record is the tracked state of one RTSP-to-HLS conversion job.
// The Registry entry is the sole owner of the encoder process (via Proc)
// and of OutputDir; removing the entry is the single trigger for
// releasing both.
type Record struct {
	ID        StreamID
	SourceURL string
	OutputDir string
	Status    Status
	LastError string
	CreatedAt time.Time
	Proc      *Supervisor
}

// Info is the client-visible representation of a Record.
type Info struct {
	ID           StreamID  `json:"id"`
	Status       Status    `json:"status"`
	SourceURL    string    `json:"sourceURL"`
	PlaybackURL  string    `json:"playbackURL"`
	CreatedAt    time.Time `json:"createdAt"`
	LastError    string    `json:"lastError,omitempty"`
	SegmentCount int       `json:"segmentCount,omitempty"`
}
