package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyProcessing is returned when an ingestion claim is attempted on a
// document that is not in a claimable state (already processing or completed).
var ErrAlreadyProcessing = errors.New("document is not claimable")

// File types accepted for upload.
const (
	FileTypePDF   = "pdf"
	FileTypeAudio = "audio"
	FileTypeVideo = "video"
)

// Document processing states. Transitions are pending→processing→{completed,failed};
// a failed document may be claimed again for re-ingestion.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ProvenanceKind tags which variant of Provenance a chunk carries.
type ProvenanceKind string

const (
	ProvenancePage ProvenanceKind = "page" // text documents: page number
	ProvenanceTime ProvenanceKind = "time" // transcripts: time range in seconds
)

// Provenance locates a chunk within its source document. Exactly one variant is
// meaningful, selected by Kind: Page for text documents, Start/End for
// time-coded transcripts.
type Provenance struct {
	Kind  ProvenanceKind
	Page  int
	Start float64
	End   float64
}

type Document struct {
	ID            string
	Owner         string
	Name          string
	FileType      string
	FilePath      string
	Status        string
	FailureReason string
	ChunkCount    int
	SizeBytes     int64
	Summary       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Chunk is an immutable retrieval unit of a document. Its ID is derived from
// the document ID and ordinal so re-embedding on retry upserts in place.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	Provenance Provenance
	CreatedAt  time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
