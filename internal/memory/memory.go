// Package memory keeps per-author interaction counters and a global topic
// frequency table, persisted through a key/value snapshot store.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/feedagent/internal/storage"
)

const (
	authorPrefix = "memory/author/"
	topicsKey    = "memory/topics"
	lastKey      = "memory/last"
)

// Store defines the storage operations Memory needs.
// Implemented by storage.Store.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	LoadPrefix(ctx context.Context, prefix string) ([]storage.KV, error)
	SaveMany(ctx context.Context, values map[string][]byte) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TopicCount is one topic counter. Slices of TopicCount keep first-seen order.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Interaction is everything remembered about one author.
type Interaction struct {
	Count         int          `json:"count"`
	LastTimestamp time.Time    `json:"last_timestamp"`
	Topics        []TopicCount `json:"topics"`
}

// LastInteraction records the most recent RecordInteraction call.
type LastInteraction struct {
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// Memory is safe for concurrent use. Mutations hold the lock through the
// durable write, so snapshots reach the store in mutation order.
type Memory struct {
	store  Store
	clock  Clock
	logger *slog.Logger

	mu      sync.RWMutex
	authors map[string]*Interaction
	topics  []TopicCount
	last    LastInteraction
}

func New(store Store) *Memory {
	return NewWithClock(store, realClock{})
}

// NewWithClock creates a Memory with a custom clock (for testing).
func NewWithClock(store Store, clock Clock) *Memory {
	return &Memory{
		store:   store,
		clock:   clock,
		logger:  slog.Default().With("component", "memory"),
		authors: make(map[string]*Interaction),
	}
}

// RecordInteraction bumps author's counter and every topic counter, both
// author-scoped and global, then writes the touched records. Duplicate
// topics count once per occurrence. On a write error the in-memory update
// is kept and the error returned.
func (m *Memory) RecordInteraction(ctx context.Context, author string, topics []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	rec, ok := m.authors[author]
	if !ok {
		rec = &Interaction{}
		m.authors[author] = rec
	}
	rec.Count++
	rec.LastTimestamp = now
	for _, t := range topics {
		rec.Topics = bump(rec.Topics, t)
		m.topics = bump(m.topics, t)
	}
	m.last = LastInteraction{Author: author, Timestamp: now}

	values, err := m.encodeLocked([]string{author})
	if err != nil {
		return err
	}
	if err := m.store.SaveMany(ctx, values); err != nil {
		return fmt.Errorf("persisting interaction for %s: %w", author, err)
	}
	return nil
}

func bump(counts []TopicCount, topic string) []TopicCount {
	for i := range counts {
		if counts[i].Topic == topic {
			counts[i].Count++
			return counts
		}
	}
	return append(counts, TopicCount{Topic: topic, Count: 1})
}

// TopTopicsFor returns up to limit of author's topics by descending count,
// ties in first-seen order. Unknown authors yield an empty slice.
func (m *Memory) TopTopicsFor(author string, limit int) []string {
	m.mu.RLock()
	rec, ok := m.authors[author]
	var counts []TopicCount
	if ok {
		counts = append(counts, rec.Topics...)
	}
	m.mu.RUnlock()

	ranked := rank(counts, limit)
	out := make([]string, len(ranked))
	for i, tc := range ranked {
		out[i] = tc.Topic
	}
	return out
}

// TopicHistory returns the global topic table ranked like TopTopicsFor.
// A limit <= 0 returns every topic.
func (m *Memory) TopicHistory(limit int) []TopicCount {
	m.mu.RLock()
	counts := append([]TopicCount(nil), m.topics...)
	m.mu.RUnlock()
	return rank(counts, limit)
}

func rank(counts []TopicCount, limit int) []TopicCount {
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	if counts == nil {
		counts = []TopicCount{}
	}
	return counts
}

// Interaction returns a copy of author's record.
func (m *Memory) Interaction(author string) (Interaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.authors[author]
	if !ok {
		return Interaction{}, false
	}
	cp := *rec
	cp.Topics = append([]TopicCount(nil), rec.Topics...)
	return cp, true
}

// Authors returns every known author, sorted.
func (m *Memory) Authors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.authors))
	for a := range m.authors {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) LastInteraction() (LastInteraction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.last.Author != ""
}

// Load replaces the in-memory state with the stored snapshot. A store with
// no snapshot yields an empty memory.
func (m *Memory) Load(ctx context.Context) error {
	kvs, err := m.store.LoadPrefix(ctx, authorPrefix)
	if err != nil {
		return fmt.Errorf("loading authors: %w", err)
	}

	authors := make(map[string]*Interaction, len(kvs))
	for _, kv := range kvs {
		var rec Interaction
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			m.logger.Warn("skipping corrupt author record", "key", kv.Key, "error", err)
			continue
		}
		authors[strings.TrimPrefix(kv.Key, authorPrefix)] = &rec
	}

	var topics []TopicCount
	if err := m.loadJSON(ctx, topicsKey, &topics); err != nil {
		return err
	}
	var last LastInteraction
	if err := m.loadJSON(ctx, lastKey, &last); err != nil {
		return err
	}

	m.mu.Lock()
	m.authors = authors
	m.topics = topics
	m.last = last
	m.mu.Unlock()

	m.logger.Debug("memory loaded", "authors", len(authors), "topics", len(topics))
	return nil
}

func (m *Memory) loadJSON(ctx context.Context, key string, v any) error {
	data, err := m.store.Load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// Save flushes the whole memory.
func (m *Memory) Save(ctx context.Context) error {
	m.mu.RLock()
	authors := make([]string, 0, len(m.authors))
	for a := range m.authors {
		authors = append(authors, a)
	}
	values, err := m.encodeLocked(authors)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := m.store.SaveMany(ctx, values); err != nil {
		return fmt.Errorf("saving memory: %w", err)
	}
	return nil
}

// encodeLocked serializes the given authors plus the global records.
// Caller must hold m.mu.
func (m *Memory) encodeLocked(authors []string) (map[string][]byte, error) {
	values := make(map[string][]byte, len(authors)+2)
	for _, a := range authors {
		b, err := json.Marshal(m.authors[a])
		if err != nil {
			return nil, fmt.Errorf("encoding author %s: %w", a, err)
		}
		values[authorPrefix+a] = b
	}

	topics := m.topics
	if topics == nil {
		topics = []TopicCount{}
	}
	b, err := json.Marshal(topics)
	if err != nil {
		return nil, fmt.Errorf("encoding topics: %w", err)
	}
	values[topicsKey] = b

	b, err = json.Marshal(m.last)
	if err != nil {
		return nil, fmt.Errorf("encoding last interaction: %w", err)
	}
	values[lastKey] = b
	return values, nil
}
