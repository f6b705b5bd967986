package conversation

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a session id has no stored row.
var ErrNotFound = errors.New("session not found")

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Summary is the structured post-session analysis.
type Summary struct {
	Summary      string   `json:"summary"`
	Struggles    []string `json:"struggles"`
	Observations []string `json:"observations"`
	Tips         []string `json:"tips"`
}

// Record is one stored session: its ordered transcript plus metadata.
type Record struct {
	SessionID          string    `json:"session_id"`
	Title              string    `json:"title"`
	Preview            string    `json:"preview"`
	History            []string  `json:"conversation"`
	Status             Status    `json:"status"`
	Summary            string    `json:"summary,omitempty"`
	Struggles          []string  `json:"struggles,omitempty"`
	Observations       []string  `json:"observations,omitempty"`
	Tips               []string  `json:"tips,omitempty"`
	SummaryGenerated   bool      `json:"summary_generated"`
	SummaryGeneratedAt time.Time `json:"summary_generated_at,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Store persists sessions and their transcripts.
type Store interface {
	Create(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Get(ctx context.Context, sessionID string) (Record, error)
	List(ctx context.Context) ([]Record, error)

	History(ctx context.Context, sessionID string) ([]string, error)
	SetHistory(ctx context.Context, sessionID string, history []string) error
	// Checkpoint persists the full transcript and refreshes the derived
	// preview, used for periodic saves and session end.
	Checkpoint(ctx context.Context, sessionID string, history []string) error

	End(ctx context.Context, sessionID string) error
	SaveSummary(ctx context.Context, sessionID string, s Summary) error

	Delete(ctx context.Context, sessionID string) error
	DeleteBatch(ctx context.Context, sessionIDs []string) (deleted []string, err error)

	Ping(ctx context.Context) error
	Close() error
}

// NewTitle names a session after its creation time.
func NewTitle(now time.Time) string {
	return "Session " + now.Format("2006-01-02 15:04")
}

// Preview derives the session list preview from the first substantial user
// line of the transcript, truncated for display.
func Preview(history []string) string {
	for _, entry := range history {
		if !strings.HasPrefix(entry, "User:") || len(entry) <= 10 {
			continue
		}
		text := strings.TrimSpace(entry[len("User:"):])
		if len(text) > 100 {
			return text[:100] + "..."
		}
		return text
	}
	return ""
}
