// Package history persists report snapshots in a pebble store so tuning
// signals survive process restarts.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"

	"github.com/guileen/dbtune/report"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history: store closed")

// Entry is one persisted snapshot.
type Entry struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Timestamp time.Time     `json:"timestamp"`
	Report    report.Report `json:"report"`
}

// Options configures a store. FS is swapped for an in-memory filesystem in
// tests; nil means the OS filesystem.
type Options struct {
	Path string
	FS   vfs.FS
}

// Store is a pebble-backed append-mostly snapshot log. Keys are
// name / inverted timestamp / uuid, so a forward scan within a name prefix
// yields newest snapshots first.
type Store struct {
	db *pebble.DB

	mu     sync.Mutex
	closed bool

	now func() time.Time
}

// Open opens or creates the store at opts.Path.
func Open(opts Options) (*Store, error) {
	popts := &pebble.Options{
		MemTableSize: 4 << 20,
	}
	if opts.FS != nil {
		popts.FS = opts.FS
	}
	db, err := pebble.Open(opts.Path, popts)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Append persists one snapshot under name.
func (s *Store) Append(name string, r report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	ts := s.now()
	entry := Entry{
		ID:        uuid.NewString(),
		Name:      name,
		Timestamp: ts,
		Report:    r,
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}

	key := encodeKey(name, ts, entry.ID)
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("write history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit snapshots for name, newest first.
func (s *Store) Recent(name string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	lower, upper := prefixBounds(name)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("history iterator: %w", err)
	}
	defer iter.Close()

	var out []Entry
	for ok := iter.First(); ok && len(out) < limit; ok = iter.Next() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return out, nil
}

// Close flushes and closes the underlying store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close history db: %w", err)
	}
	return nil
}

// encodeKey lays out name \x00 inverted-nanos \x00 uuid. Inverting the
// timestamp makes lexicographic order reverse-chronological within a name.
func encodeKey(name string, ts time.Time, id string) []byte {
	key := make([]byte, 0, len(name)+1+8+1+len(id))
	key = append(key, name...)
	key = append(key, 0)
	var inv [8]byte
	binary.BigEndian.PutUint64(inv[:], math.MaxUint64-uint64(ts.UnixNano()))
	key = append(key, inv[:]...)
	key = append(key, 0)
	key = append(key, id...)
	return key
}

func prefixBounds(name string) (lower, upper []byte) {
	lower = append([]byte(name), 0)
	upper = append([]byte(name), 1)
	return lower, upper
}
