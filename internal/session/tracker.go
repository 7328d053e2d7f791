// Package session keeps a bounded, chronological log of capability
// invocations and derives usage statistics from it.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osakka/agentorch/pkg/cache"
	"github.com/osakka/agentorch/pkg/logging"
)

// DefaultCapacity is the number of records kept before the oldest is evicted
const DefaultCapacity = 100

// ErrNoInteractions is returned by Stats when nothing has been recorded.
var ErrNoInteractions = errors.New("no interactions yet")

// Record is one tracked invocation
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Capability string    `json:"capability"`
	Digest     string    `json:"request_digest"`
	Success    bool      `json:"success"`
}

// Stats summarises the records currently held
type Stats struct {
	TotalInteractions int            `json:"total_interactions"`
	SuccessCount      int            `json:"success_count"`
	SuccessRate       float64        `json:"success_rate"`
	UsageByCapability map[string]int `json:"usage_by_capability"`
	MostUsed          string         `json:"most_used_capability"`
	FirstInteraction  time.Time      `json:"first_interaction"`
	LastInteraction   time.Time      `json:"last_interaction"`
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker is a fixed-capacity ring of records. Eviction is strict FIFO.
type Tracker struct {
	mu       sync.RWMutex
	items    []Record
	head     int
	count    int
	capacity int

	now    func() time.Time
	logger logging.Logger
}

// NewTracker creates a tracker; capacity <= 0 uses DefaultCapacity.
func NewTracker(capacity int, logger logging.Logger, opts ...Option) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &Tracker{
		items:    make([]Record, capacity),
		capacity: capacity,
		now:      time.Now,
		logger:   logger.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RequestDigest is a short stable digest of a capability request.
func RequestDigest(capability string, args map[string]interface{}) string {
	sum := sha256.Sum256([]byte(cache.Signature(capability, args)))
	return hex.EncodeToString(sum[:8])
}

// Record appends an entry, evicting the oldest when full. Timestamps are
// taken under the ring lock, so they never decrease in ring order.
func (t *Tracker) Record(capability, digest string, success bool) Record {
	r := Record{
		ID:         uuid.NewString(),
		Capability: capability,
		Digest:     digest,
		Success:    success,
	}

	t.mu.Lock()
	r.Timestamp = t.now()
	evicted := t.count == t.capacity
	t.items[t.head] = r
	t.head = (t.head + 1) % t.capacity
	if !evicted {
		t.count++
	}
	t.mu.Unlock()

	t.logger.Trace("session_record_added",
		"capability", capability,
		"success", success,
		"evicted_oldest", evicted)
	return r
}

// Records returns the held records, oldest first.
func (t *Tracker) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recordsLocked()
}

func (t *Tracker) recordsLocked() []Record {
	out := make([]Record, t.count)
	start := (t.head - t.count + t.capacity) % t.capacity
	for i := range out {
		out[i] = t.items[(start+i)%t.capacity]
	}
	return out
}

// Size returns the number of records held.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Capacity returns the ring size.
func (t *Tracker) Capacity() int {
	return t.capacity
}

// Reset drops every record.
func (t *Tracker) Reset() {
	t.mu.Lock()
	dropped := t.count
	t.items = make([]Record, t.capacity)
	t.head = 0
	t.count = 0
	t.mu.Unlock()

	t.logger.Info("session_reset", "dropped_records", dropped)
}

// Stats computes usage over the held records. It returns ErrNoInteractions
// when the tracker is empty.
func (t *Tracker) Stats() (Stats, error) {
	t.mu.RLock()
	records := t.recordsLocked()
	t.mu.RUnlock()

	if len(records) == 0 {
		return Stats{}, ErrNoInteractions
	}

	stats := Stats{
		TotalInteractions: len(records),
		UsageByCapability: make(map[string]int),
		FirstInteraction:  records[0].Timestamp,
		LastInteraction:   records[len(records)-1].Timestamp,
	}
	for _, r := range records {
		stats.UsageByCapability[r.Capability]++
		if r.Success {
			stats.SuccessCount++
		}
	}
	stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalInteractions)
	stats.MostUsed = MostUsed(stats.UsageByCapability)
	return stats, nil
}

// MostUsed picks the highest count; ties go to the lexically smallest name.
// It returns "" for an empty map.
func MostUsed(usage map[string]int) string {
	names := make([]string, 0, len(usage))
	for name := range usage {
		names = append(names, name)
	}
	sort.Strings(names)

	best := ""
	for _, name := range names {
		if best == "" || usage[name] > usage[best] {
			best = name
		}
	}
	return best
}
