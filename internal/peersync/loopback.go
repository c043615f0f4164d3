package peersync

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the shared same-machine slot backing the degraded local
// fallback. It emulates a browser storage channel: a value is written,
// observers of the slot see it, and the writer clears it shortly after.
// It reaches other contexts on the same machine only, never other hosts.
type Store interface {
	Publish(data []byte)
	Subscribe(fn func(data []byte)) (unsubscribe func())
	Close()
}

// slotRecord wraps the payload with an id so observers can tell a new
// write from a re-read of the same value
type slotRecord struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// FileStore implements Store on a single JSON file in the system temp
// directory, scoped by channel name. Observers poll the file; the
// writer removes it after clearDelay.
type FileStore struct {
	path       string
	clearDelay time.Duration
	poll       time.Duration

	mu       sync.Mutex
	subs     map[int]func([]byte)
	next     int
	lastSeen string
	written  map[string]struct{}
	started  bool
	stop     chan struct{}
}

// NewFileStore creates a store on the slot file for the given channel
func NewFileStore(channel string, clearDelay time.Duration) *FileStore {
	poll := clearDelay / 2
	if poll < 20*time.Millisecond {
		poll = 20 * time.Millisecond
	}
	return &FileStore{
		path:       filepath.Join(os.TempDir(), "posync-"+channel+".json"),
		clearDelay: clearDelay,
		poll:       poll,
		subs:       make(map[int]func([]byte)),
		written:    make(map[string]struct{}),
		stop:       make(chan struct{}),
	}
}

// Publish writes the payload into the slot and clears it after the
// configured delay, mirroring the write-then-clear storage pattern
func (s *FileStore) Publish(data []byte) {
	rec := slotRecord{ID: uuid.New().String(), Data: data}
	raw, err := json.Marshal(rec)
	if err != nil {
		log.Printf("Loopback: marshal: %v", err)
		return
	}

	s.mu.Lock()
	s.written[rec.ID] = struct{}{}
	if len(s.written) > 1000 {
		s.written = map[string]struct{}{rec.ID: {}}
	}
	s.mu.Unlock()

	if err := os.WriteFile(s.path, raw, 0600); err != nil {
		log.Printf("Loopback: write %s: %v", s.path, err)
		return
	}

	id := rec.ID
	time.AfterFunc(s.clearDelay, func() {
		// Only clear our own write; a later writer owns the slot now
		raw, err := os.ReadFile(s.path)
		if err != nil {
			return
		}
		var cur slotRecord
		if json.Unmarshal(raw, &cur) == nil && cur.ID == id {
			os.Remove(s.path)
		}
	})
}

// Subscribe registers an observer and starts the poll loop on first use
func (s *FileStore) Subscribe(fn func(data []byte)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	if !s.started {
		s.started = true
		go s.pollLoop()
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close stops the poll loop
func (s *FileStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		close(s.stop)
		s.started = false
	}
}

func (s *FileStore) pollLoop() {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pollOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *FileStore) pollOnce() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var rec slotRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
		return
	}

	s.mu.Lock()
	if rec.ID == s.lastSeen {
		s.mu.Unlock()
		return
	}
	s.lastSeen = rec.ID
	if _, own := s.written[rec.ID]; own {
		// The writing context does not observe its own storage event
		s.mu.Unlock()
		return
	}
	fns := make([]func([]byte), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(rec.Data)
	}
}

// MemoryStore implements Store in-process; it backs tests and embedded
// setups where several client contexts share one process. Every
// subscriber sees every publish; origin filtering happens above.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[int]func([]byte)
	next int
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[int]func([]byte))}
}

// Publish delivers the payload to all subscribers in order
func (s *MemoryStore) Publish(data []byte) {
	s.mu.RLock()
	fns := make([]func([]byte), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(data)
	}
}

// Subscribe registers an observer and returns its removal function
func (s *MemoryStore) Subscribe(fn func(data []byte)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close is a no-op for the in-process store
func (s *MemoryStore) Close() {}
