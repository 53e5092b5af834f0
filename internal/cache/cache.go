// Package cache provides short-lived query response caching keyed on the
// exact request shape, with in-process and Redis-backed implementations.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/membrane-ai/membrane/internal/model"
)

// DefaultTTL is how long a cached query response stays valid.
const DefaultTTL = 300 * time.Second

// ResponseCache stores query responses under request-shape keys. A miss is
// (nil, false); implementations never return errors to the query path.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*model.QueryResponse, bool)
	Set(ctx context.Context, key string, resp *model.QueryResponse)
	Invalidate(ctx context.Context)
}

// Key derives a deterministic cache key from every request field that can
// change the result set. Filters are serialized in sorted key order so two
// equal maps always produce the same key.
func Key(req model.QueryRequest) string {
	var b strings.Builder
	b.WriteString(req.Query)
	fmt.Fprintf(&b, "|limit=%d|min=%.4f", req.Limit, req.MinSimilarity)
	if req.UserID != "" {
		b.WriteString("|user=" + req.UserID)
	}
	if req.ConversationID != "" {
		b.WriteString("|conv=" + req.ConversationID)
	}
	if len(req.Providers) > 0 {
		providers := append([]string(nil), req.Providers...)
		sort.Strings(providers)
		b.WriteString("|providers=" + strings.Join(providers, ","))
	}
	if len(req.Filters) > 0 {
		keys := make([]string, 0, len(req.Filters))
		for k := range req.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, _ := json.Marshal(req.Filters[k])
			fmt.Fprintf(&b, "|f:%s=%s", k, v)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "membrane:query:" + hex.EncodeToString(sum[:])
}

type entry struct {
	resp      *model.QueryResponse
	expiresAt time.Time
}

// Memory is an in-process TTL cache. Expired entries are dropped lazily on
// read; there is no background sweeper.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory builds an in-process cache. ttl <= 0 falls back to DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (*model.QueryResponse, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return e.resp, true
}

func (m *Memory) Set(_ context.Context, key string, resp *model.QueryResponse) {
	m.mu.Lock()
	m.entries[key] = entry{resp: resp, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *Memory) Invalidate(_ context.Context) {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
