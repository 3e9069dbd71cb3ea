// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var stateStoreLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "steward",
	Subsystem: "session",
	Name:      "state_lookups_total",
	Help:      "QueryState lookups by outcome: hit, miss",
}, []string{"outcome"})

// =============================================================================
// StateStore Interface
// =============================================================================

// StateStore persists QueryState between turns of a session.
//
// # Description
//
// Keyed by session id, TTL-expiring. Get returns (nil, nil) on miss —
// an absent or expired entry is a normal condition, not an error. Put
// overwrites unconditionally (last-write-wins). Forget is best-effort.
//
// The interface exists so dispatch logic can run against an in-memory
// store in tests and a BadgerDB-backed store in production without
// changes.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type StateStore interface {
	Get(ctx context.Context, sessionID string) (*QueryState, error)
	Put(ctx context.Context, sessionID string, state *QueryState) error
	Forget(ctx context.Context, sessionID string) error
}

// stateKey builds the store key for a session. The layout matches the
// wire contract: "query-state:{sessionID}".
func stateKey(sessionID string) string {
	return "query-state:" + sessionID
}

// =============================================================================
// MemoryStateStore
// =============================================================================

// MemoryStateStore implements StateStore with an in-process map and
// per-entry deadlines. Used by tests and single-binary deployments.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	state    *QueryState
	deadline time.Time
}

// NewMemoryStateStore creates a MemoryStateStore. ttl <= 0 uses DefaultTTL.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStateStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the session's QueryState, or (nil, nil) on miss or expiry.
func (s *MemoryStateStore) Get(_ context.Context, sessionID string) (*QueryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[stateKey(sessionID)]
	if !ok || s.now().After(e.deadline) {
		if ok {
			delete(s.entries, stateKey(sessionID))
		}
		stateStoreLookups.WithLabelValues("miss").Inc()
		return nil, nil
	}
	stateStoreLookups.WithLabelValues("hit").Inc()
	return e.state, nil
}

// Put stores the session's QueryState with a fresh TTL.
func (s *MemoryStateStore) Put(_ context.Context, sessionID string, state *QueryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[stateKey(sessionID)] = memoryEntry{
		state:    state,
		deadline: s.now().Add(s.ttl),
	}
	return nil
}

// Forget drops the session's QueryState.
func (s *MemoryStateStore) Forget(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, stateKey(sessionID))
	return nil
}

// setClock overrides the time source for TTL tests.
func (s *MemoryStateStore) setClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
