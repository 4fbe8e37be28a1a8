// Package capability declares the narrow external interfaces the recall
// engine core consumes but never implements beyond a single deterministic
// fallback: the credential-carrying upstream recording service, the
// embedding model, and the external reasoning model are all collaborators
// referenced only by interface, per the system's scope boundary.
package capability

import (
	"context"
	"time"
)

// RawRecording is a transcript as handed to the core by a RecordingSource,
// before it has been persisted into the corpus layout.
type RawRecording struct {
	ID        string
	Title     string
	StartTime time.Time
	EndTime   time.Time
	Text      string
	Headings  []string
}

// RecordingSource is the opaque, rate-limited upstream collaborator that
// produces recordings for ingest. The core enforces its own inter-call
// delay rather than relying on the source to self-throttle.
type RecordingSource interface {
	// ListByDate returns every recording whose startTime falls on date (UTC day boundary).
	ListByDate(ctx context.Context, date time.Time) ([]RawRecording, error)
	// ListRecent returns up to limit of the most recently started recordings.
	ListRecent(ctx context.Context, limit int) ([]RawRecording, error)
}

// Encoder turns chunk text into fixed-dimension embeddings. Implementations
// must be deterministic: the same text always encodes to the same vector.
type Encoder interface {
	// Encode returns one vector per input string, each of length Dimension().
	Encode(ctx context.Context, text []string) ([][]float32, error)
	// Dimension returns the encoder's native output width D'.
	Dimension() int
}

// FinalAnswer is what a Reasoner returns when it has enough evidence to
// answer the original question.
type FinalAnswer struct {
	Text       string
	Confidence float64
	Citations  []string
}

// RefineRequest is what a Reasoner returns when the supplied evidence is
// insufficient; Query is the refined search text for one further local round.
type RefineRequest struct {
	Query string
}

// Reasoner is the opaque external reasoning model consulted only after the
// iterative search loop exhausts its local refinement budget.
type Reasoner interface {
	// Assess returns either a FinalAnswer or a RefineRequest for one more
	// local round. A non-nil error is treated as a terminal escalation
	// failure (the Reasoner is not retried within the same query).
	Assess(ctx context.Context, prompt string, evidence []Evidence) (*FinalAnswer, *RefineRequest, error)
}

// Evidence is one piece of consensus-ranked evidence handed to the Reasoner.
type Evidence struct {
	RecordingID string
	Score       float64
	Snippet     string
}
