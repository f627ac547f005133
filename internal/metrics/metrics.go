package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/vk-weaver/internal/storage"
)

// Event is a single observable outcome of the crawl engine
type Event int

const (
	UserPersisted Event = iota
	GroupPersisted
	EdgeRecorded
	FetchFailed
	PersistFailed
	VisitSkipped
)

func (e Event) String() string {
	switch e {
	case UserPersisted:
		return "user_persisted"
	case GroupPersisted:
		return "group_persisted"
	case EdgeRecorded:
		return "edge_recorded"
	case FetchFailed:
		return "fetch_failed"
	case PersistFailed:
		return "persist_failed"
	case VisitSkipped:
		return "visit_skipped"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Tracker holds and manages crawl metrics
type Tracker struct {
	mu   sync.Mutex
	data storage.Metrics
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
		},
	}
}

// Record increments the counter matching the event
func (t *Tracker) Record(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e {
	case UserPersisted:
		t.data.UsersPersisted++
	case GroupPersisted:
		t.data.GroupsPersisted++
	case EdgeRecorded:
		t.data.EdgesRecorded++
	case FetchFailed:
		t.data.FetchesFailed++
	case PersistFailed:
		t.data.PersistsFailed++
	case VisitSkipped:
		t.data.VisitsSkipped++
	}
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason

	jsonData, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Users: %d | Groups: %d | Edges: %d | Failed: %d fetches, %d persists | Skipped: %d",
		t.data.UsersPersisted,
		t.data.GroupsPersisted,
		t.data.EdgesRecorded,
		t.data.FetchesFailed,
		t.data.PersistsFailed,
		t.data.VisitsSkipped,
	)
}
