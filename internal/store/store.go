// Package store is the typed gateway between the sync engine and the
// database. Every operation checks a pooled connection out for its own
// duration; multi-statement writes run in one transaction with rollback
// on failure. No retry happens at this layer.
package store

import (
	"go.uber.org/zap"
)

// Store exposes the persistent operations the engine runs on
type Store struct {
	logger *zap.Logger
}

// New creates a store gateway
func New(logger *zap.Logger) *Store {
	return &Store{logger: logger}
}
