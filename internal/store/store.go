// Package store keeps the durable record of each session so state survives a
// process restart and stays readable from other processes. The in-process
// session actor remains the writer of record; saves here are write-through.
package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session record not found")
var ErrVersionConflict = errors.New("session record has a newer version")

// Record is one session snapshot. Version must increase on every save; a save
// carrying a version at or below the stored one is rejected, which is the
// cross-process compare-and-set guard. Setup carries the serialized event
// setup (participants and quiz results) so a session can be rebuilt from the
// record alone.
type Record struct {
	Code      string
	Version   int
	Mode      string
	Status    string
	Snapshot  []byte
	Setup     []byte
	UpdatedAt time.Time
}

type SessionStore interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, code string) (Record, error)
	Delete(ctx context.Context, code string) error
}

// Memory is the single-process store used when no database is configured,
// and in tests.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.records[rec.Code]; ok && prev.Version >= rec.Version {
		return ErrVersionConflict
	}
	m.records[rec.Code] = rec
	return nil
}

func (m *Memory) Load(_ context.Context, code string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[code]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, code)
	return nil
}
