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

// =============================================================================
// BadgerStateStore — QueryState Persistence
// =============================================================================
//
// QueryState survives service restarts so a user can say "next" after a
// deploy. Design choices:
//
//	1. BadgerDB (embedded): session state is service infrastructure, not
//	   user data. No network call, no availability dependency, and native
//	   TTL handles expiry without application-level sweeping.
//
//	2. JSON encoding (not gob): the value is the wire-contract QueryState
//	   and stays debuggable with a plain dump tool.
//
//	3. Expired keys return ErrKeyNotFound, which the store reports as a
//	   normal miss — identical to the memory store's behavior.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStateStore implements StateStore on a BadgerDB instance.
//
// # Description
//
// The DB is expected to be opened at startup with its own path and shared
// with nothing else. The store does not own the DB lifecycle; the caller
// (main) closes it on shutdown.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerStateStore struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// OpenBadger opens a BadgerDB at path with logging routed to slog-silent.
//
// # Inputs
//
//   - path: Directory for the database files. Created if absent.
//
// # Outputs
//
//   - *badger.DB: Open handle. Caller owns Close.
//   - error: Non-nil if the directory cannot be opened.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return db, nil
}

// NewBadgerStateStore creates a BadgerStateStore backed by db.
//
// # Inputs
//
//   - db: Opened BadgerDB. Must not be nil.
//   - ttl: Entry lifetime. Pass 0 for DefaultTTL (30 minutes).
//   - logger: Logger for hit/miss diagnostics. May be nil.
func NewBadgerStateStore(db *badger.DB, ttl time.Duration, logger *slog.Logger) *BadgerStateStore {
	if db == nil {
		panic("NewBadgerStateStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStateStore{db: db, ttl: ttl, logger: logger}
}

// Get returns the session's QueryState, or (nil, nil) on miss or expiry.
func (s *BadgerStateStore) Get(_ context.Context, sessionID string) (*QueryState, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey(sessionID)))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		stateStoreLookups.WithLabelValues("miss").Inc()
		s.logger.Debug("session state: miss", slog.String("session_id", sessionID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session state load: %w", err)
	}

	var state QueryState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("session state decode: %w", err)
	}
	stateStoreLookups.WithLabelValues("hit").Inc()
	return &state, nil
}

// Put stores the session's QueryState with the configured TTL.
func (s *BadgerStateStore) Put(_ context.Context, sessionID string, state *QueryState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session state encode: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(stateKey(sessionID)), raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("session state save: %w", err)
	}
	s.logger.Debug("session state: saved",
		slog.String("session_id", sessionID),
		slog.Int("entity_count", len(state.EntityIDs)),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// Forget drops the session's QueryState. Absent keys are not an error.
func (s *BadgerStateStore) Forget(_ context.Context, sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(stateKey(sessionID)))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("session state forget: %w", err)
	}
	return nil
}
