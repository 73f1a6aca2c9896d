package session

import (
	"sort"
	"sync"
	"time"
)

// Memory is the onboarding progress recorded for a single user.
type Memory struct {
	UserID         string               `json:"user_id"`
	UserType       string               `json:"user_type,omitempty"`
	CSVUploaded    bool                 `json:"csv_uploaded"`
	CSVValidated   bool                 `json:"csv_validated"`
	LastToolError  []string             `json:"last_tool_error"`
	CompletedSteps []string             `json:"completed_steps"`
	FailedAttempts []string             `json:"failed_attempts"`
	EnrichedTags   []string             `json:"enriched_tags"`
	Timestamps     map[string]time.Time `json:"timestamps"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// HasTag reports whether tag is part of the enriched tag set.
func (m Memory) HasTag(tag string) bool {
	for _, t := range m.EnrichedTags {
		if t == tag {
			return true
		}
	}
	return false
}

type record struct {
	// turn serializes whole agent turns for the user; mu guards the fields below.
	turn sync.Mutex
	mu   sync.Mutex
	mem  Memory
	tags map[string]struct{}
}

// Store keeps one Memory per user for the lifetime of the process.
// Records are never deleted.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*record
	now      func() time.Time
	onCreate func(Memory)
}

func NewStore() *Store {
	return &Store{
		records: make(map[string]*record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetCreateHook registers a callback invoked after a user's record is first created.
func (s *Store) SetCreateHook(hook func(Memory)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreate = hook
}

// GetOrCreate returns a snapshot of the user's memory, creating an empty record on first use.
func (s *Store) GetOrCreate(userID string) Memory {
	r := s.get(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Snapshot returns the user's memory without creating it.
func (s *Store) Snapshot(userID string) (Memory, bool) {
	s.mu.RLock()
	r, ok := s.records[userID]
	s.mu.RUnlock()
	if !ok {
		return Memory{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), true
}

// Lock serializes turns for userID. The returned func releases the lock.
func (s *Store) Lock(userID string) (unlock func()) {
	r := s.get(userID)
	r.turn.Lock()
	return r.turn.Unlock
}

func (s *Store) RecordStep(userID, step string) {
	s.mutate(userID, func(r *record, now time.Time) {
		r.mem.CompletedSteps = append(r.mem.CompletedSteps, step)
		r.mem.Timestamps[step] = now
	})
}

func (s *Store) RecordFailure(userID, step string) {
	s.mutate(userID, func(r *record, now time.Time) {
		r.mem.FailedAttempts = append(r.mem.FailedAttempts, step)
		r.mem.Timestamps[step+"_failed"] = now
	})
}

// SetError stores the columns reported missing by the last tool run. A nil slice clears it.
func (s *Store) SetError(userID string, missing []string) {
	s.mutate(userID, func(r *record, _ time.Time) {
		if missing == nil {
			r.mem.LastToolError = nil
			return
		}
		r.mem.LastToolError = append([]string{}, missing...)
	})
}

func (s *Store) SetValidated(userID string, validated bool) {
	s.mutate(userID, func(r *record, _ time.Time) {
		r.mem.CSVValidated = validated
	})
}

func (s *Store) MarkUploaded(userID string) {
	s.mutate(userID, func(r *record, now time.Time) {
		r.mem.CSVUploaded = true
		r.mem.Timestamps["csv_uploaded"] = now
	})
}

// AppendTags unions tags into the user's enriched tag set.
func (s *Store) AppendTags(userID string, tags []string) {
	s.mutate(userID, func(r *record, _ time.Time) {
		for _, t := range tags {
			r.tags[t] = struct{}{}
		}
	})
}

func (s *Store) SetUserType(userID, userType string) {
	s.mutate(userID, func(r *record, _ time.Time) {
		r.mem.UserType = userType
	})
}

// Count returns the number of users with a record.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) get(userID string) *record {
	s.mu.RLock()
	r, ok := s.records[userID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	if r, ok = s.records[userID]; ok {
		s.mu.Unlock()
		return r
	}
	now := s.now()
	r = &record{
		mem: Memory{
			UserID:     userID,
			Timestamps: make(map[string]time.Time),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		tags: make(map[string]struct{}),
	}
	s.records[userID] = r
	hook := s.onCreate
	created := r.snapshot()
	s.mu.Unlock()

	if hook != nil {
		hook(created)
	}
	return r
}

func (s *Store) mutate(userID string, fn func(r *record, now time.Time)) {
	r := s.get(userID)
	now := s.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r, now)
	r.mem.UpdatedAt = now
}

func (r *record) snapshot() Memory {
	c := r.mem
	c.LastToolError = cloneStrings(r.mem.LastToolError)
	c.CompletedSteps = cloneStrings(r.mem.CompletedSteps)
	c.FailedAttempts = cloneStrings(r.mem.FailedAttempts)
	c.EnrichedTags = make([]string, 0, len(r.tags))
	for t := range r.tags {
		c.EnrichedTags = append(c.EnrichedTags, t)
	}
	sort.Strings(c.EnrichedTags)
	c.Timestamps = make(map[string]time.Time, len(r.mem.Timestamps))
	for k, v := range r.mem.Timestamps {
		c.Timestamps[k] = v
	}
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
