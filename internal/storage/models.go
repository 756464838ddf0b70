package storage

import "time"

// Vector statuses. A record moves pending -> processing -> ok, flips to
// outdated when its source document changes, and lands on error when an
// embed or remote upsert fails (retried like outdated on the next pass).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusOK         = "ok"
	StatusOutdated   = "outdated"
	StatusOrphan     = "orphan"
	StatusError      = "error"
)

// Vector provenance types.
const (
	TypeDocument = "document"
	TypeManual   = "manual"
	TypeImported = "imported"
)

// VectorRecord is one row of the local vector mirror. The remote vector
// store holds the embedding itself; this row caches everything needed for
// listing, filtering and staleness detection without a remote round trip.
type VectorRecord struct {
	ID          int64
	Type        string // document | manual | imported
	Title       string
	Content     string
	Behavior    string // how the content is used when injected, default "context"
	Status      string
	EnvID       string
	Model       string
	Dimensions  int
	RemoteID    string // id in the remote vector store, empty until upsert succeeds
	RefID       string // source document id, empty for manually added vectors
	RefChecksum string // content hash of the source document at embed time
	Error       string // last failure message
	Score       float64 // similarity score, only populated by semantic search
	Created     time.Time
	Updated     time.Time
}

// LogEntry is one usage log row (token accounting for a single AI call).
type LogEntry struct {
	ID      int64
	UserID  string
	Session string
	Model   string
	Mode    string
	Units   int
	Type    string
	Price   float64
	Scope   string
	EnvID   string
	Time    time.Time
}

// Discussion persists the remote assistant thread across turns of one
// conversation, keyed by bot and chat id.
type Discussion struct {
	ID       int64
	BotID    string
	ChatID   string
	ThreadID string
	Created  time.Time
}
