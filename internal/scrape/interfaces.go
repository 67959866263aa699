package scrape

import (
	"context"
	"encoding/json"
	"time"
)

// CheckpointStore persists one artifact per job key.
type CheckpointStore interface {
	Exists(ctx context.Context, key Key) (bool, error)
	Write(ctx context.Context, key Key, artifact Artifact) error
}

// Session is a live browsing session the agent drives.
type Session interface {
	// Endpoint returns the devtools URL the agent attaches to.
	Endpoint() string
	CurrentURL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	// Stop closes the browser gracefully. Calling it twice is a no-op.
	Stop(ctx context.Context) error
	// Kill terminates the browser process. Calling it twice is a no-op.
	Kill() error
}

// SessionSpec configures a new browsing session.
type SessionSpec struct {
	ID         string
	ProfileDir string
	Country    string
	Headless   bool
	Args       []string
	Proxy      string
	UserAgent  string
	Locale     string
}

// SessionFactory opens browsing sessions.
type SessionFactory interface {
	Open(ctx context.Context, spec SessionSpec) (Session, error)
}

// Invocation is one request to the agent.
type Invocation struct {
	ID          string
	Task        string
	Session     Session
	Schema      json.RawMessage
	ArtifactDir string
	MaxSteps    int
	Model       string
}

// Agent runs a browsing task and reports a normalized outcome.
type Agent interface {
	Run(ctx context.Context, inv Invocation) Outcome
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique invocation identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes artifact events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ReportSink appends report bytes at a path.
type ReportSink interface {
	Name() string
	Append(ctx context.Context, filename string, data []byte) (string, error)
}

// ArtifactEvent is published after a job artifact is written.
type ArtifactEvent struct {
	Country  string    `json:"country"`
	Store    string    `json:"store"`
	Product  string    `json:"product"`
	Path     string    `json:"path"`
	Records  int       `json:"records"`
	Empty    bool      `json:"empty"`
	Attempts int       `json:"attempts"`
	SavedAt  time.Time `json:"saved_at"`
}

// ArtifactSavedEvent is the event type attribute of ArtifactEvent messages.
const ArtifactSavedEvent = "artifact.saved"

// Attributes returns routing attributes for message brokers.
func (e ArtifactEvent) Attributes() map[string]string {
	return map[string]string{
		"event_type": ArtifactSavedEvent,
		"country":    e.Country,
		"store":      e.Store,
		"product":    e.Product,
	}
}
