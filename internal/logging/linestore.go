package logging

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxLineBytes caps a single stored line; longer lines are cut.
const maxLineBytes = 16 << 10

// LineStore is an io.Writer that keeps the most recent complete log lines
// for the admin server. Followers registered with Follow also receive each
// new line as it is written.
type LineStore struct {
	mu      sync.Mutex
	ring    []string
	head    int // oldest line
	n       int
	partial []byte

	followers map[chan string]struct{}

	dropped atomic.Uint64
}

// NewLineStore keeps up to size lines. A store of size zero discards
// everything.
func NewLineStore(size int) *LineStore {
	return &LineStore{ring: make([]string, max(size, 0))}
}

// Write splits p into '\n'-terminated lines. A trailing "\r" is dropped and
// an unterminated tail waits for the next Write.
func (s *LineStore) Write(p []byte) (int, error) {
	if s == nil || len(s.ring) == 0 {
		return len(p), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rest := p
	for {
		line, tail, complete := bytes.Cut(rest, []byte{'\n'})
		s.partial = appendCapped(s.partial, line)
		if !complete {
			break
		}
		rest = tail
		s.push(string(bytes.TrimSuffix(s.partial, []byte{'\r'})))
		s.partial = s.partial[:0]
	}
	return len(p), nil
}

func appendCapped(dst, p []byte) []byte {
	room := maxLineBytes - len(dst)
	if room <= 0 {
		return dst
	}
	if len(p) > room {
		p = p[:room]
	}
	return append(dst, p...)
}

// push must be called with mu held.
func (s *LineStore) push(line string) {
	if s.n < len(s.ring) {
		s.ring[(s.head+s.n)%len(s.ring)] = line
		s.n++
	} else {
		s.ring[s.head] = line
		s.head = (s.head + 1) % len(s.ring)
		s.dropped.Add(1)
	}
	for ch := range s.followers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Snapshot returns the newest limit lines, oldest first. limit <= 0 means
// every stored line.
func (s *LineStore) Snapshot(limit int) []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n == 0 {
		return nil
	}
	count := s.n
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]string, count)
	first := s.head + s.n - count
	for i := range out {
		out[i] = s.ring[(first+i)%len(s.ring)]
	}
	return out
}

// Len returns the number of stored lines.
func (s *LineStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Dropped counts lines evicted to make room for newer ones.
func (s *LineStore) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Follow registers a receiver for lines written from now on. A follower
// that falls more than buffer lines behind misses lines. stop unregisters
// and closes the channel.
func (s *LineStore) Follow(buffer int) (lines <-chan string, stop func()) {
	ch := make(chan string, max(buffer, 1))
	s.mu.Lock()
	if s.followers == nil {
		s.followers = make(map[chan string]struct{})
	}
	s.followers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.followers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}
