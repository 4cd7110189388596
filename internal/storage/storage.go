package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Storage keys
const (
	keyOptions = "options"
	keyStats   = "stats"
)

// SearchStats accumulates statistics over every search the engine ran.
type SearchStats struct {
	Searches   int           `json:"searches"`
	BookMoves  int           `json:"book_moves"`
	TimedOut   int           `json:"timed_out"`
	TotalNodes uint64        `json:"total_nodes"`
	TotalTime  time.Duration `json:"total_time"`
	LastSearch time.Time     `json:"last_search"`
}

// NodesPerSecond returns the average search speed.
func (s *SearchStats) NodesPerSecond() float64 {
	if s.TotalTime <= 0 {
		return 0
	}
	return float64(s.TotalNodes) / s.TotalTime.Seconds()
}

// SearchRecord describes one finished search.
type SearchRecord struct {
	Nodes    uint64
	Duration time.Duration
	BookMove bool
	TimedOut bool
}

// Storage wraps BadgerDB for persistent storage
type Storage struct {
	mu sync.RWMutex
	db *badger.DB
}

// Open opens the store in dir, or in the platform data directory when dir
// is empty.
func Open(dir string) (*Storage, error) {
	if dir == "" {
		var err error
		if dir, err = GetDatabaseDir(); err != nil {
			return nil, err
		}
	}
	return open(badger.DefaultOptions(dir))
}

// OpenInMemory opens a store that is discarded on Close.
func OpenInMemory() (*Storage, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Storage, error) {
	opts.Logger = badgerLogger{log.With().Str("component", "badger").Logger()}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) view(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *Storage) update(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(fn)
}

// getJSON decodes the value at key into v, leaving v untouched if the key
// does not exist.
func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

// SaveOption stores the value of a named engine option. Names are case
// insensitive.
func (s *Storage) SaveOption(name, value string) error {
	return s.update(func(txn *badger.Txn) error {
		opts := make(map[string]string)
		if err := getJSON(txn, keyOptions, &opts); err != nil {
			return err
		}
		opts[strings.ToLower(name)] = value
		return setJSON(txn, keyOptions, opts)
	})
}

// LoadOptions returns every stored option value keyed by lower-case name.
func (s *Storage) LoadOptions() (map[string]string, error) {
	opts := make(map[string]string)
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, keyOptions, &opts)
	})
	return opts, err
}

// LoadStats loads search statistics, returns empty stats if not found
func (s *Storage) LoadStats() (*SearchStats, error) {
	stats := &SearchStats{}
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, keyStats, stats)
	})
	return stats, err
}

// RecordSearch adds a finished search to the statistics.
func (s *Storage) RecordSearch(rec SearchRecord) error {
	return s.update(func(txn *badger.Txn) error {
		stats := &SearchStats{}
		if err := getJSON(txn, keyStats, stats); err != nil {
			return err
		}

		stats.Searches++
		stats.TotalNodes += rec.Nodes
		stats.TotalTime += rec.Duration
		stats.LastSearch = time.Now()
		if rec.BookMove {
			stats.BookMoves++
		}
		if rec.TimedOut {
			stats.TimedOut++
		}

		return setJSON(txn, keyStats, stats)
	})
}

// ResetStats clears the search statistics.
func (s *Storage) ResetStats() error {
	return s.update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(keyStats))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// badgerLogger forwards badger's log output to zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Trace().Msgf(strings.TrimSpace(format), args...)
}
