// Package ratelimit implements the sliding-window rate-limiter store with
// punitive blocking described in §4.2, guarded by a single mutex per the
// re-architecture note in §9 ("prefer one coarse lock over fine-grained
// locking; the critical section is small").
package ratelimit

import (
	"sync"
	"time"
)

const blockDuration = time.Hour

// clientRecord is the per-client state kept in the store (§3 "Client record").
type clientRecord struct {
	requests    []time.Time
	blocked     bool
	blockExpiry time.Time
}

// Result is the outcome of a checkLimit call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store is the shared, mutable rate-limiter state. The zero value is not
// usable; construct with New.
type Store struct {
	mu      sync.Mutex
	clients map[string]*clientRecord

	stop chan struct{}
	done chan struct{}
}

// New constructs a Store and starts its 5-minute sweeper goroutine.
func New() *Store {
	s := &Store{
		clients: make(map[string]*clientRecord),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// CheckLimit implements the §4.2 algorithm steps 1-5 for one client.
// maxRequests == 0 disables limiting entirely and always allows.
func (s *Store) CheckLimit(clientID string, maxRequests int, window time.Duration) Result {
	if maxRequests <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.clients[clientID]
	if !ok {
		rec = &clientRecord{}
		s.clients[clientID] = rec
	}

	// Step 1/2: punitive block.
	if rec.blocked {
		if now.Before(rec.blockExpiry) {
			return Result{Allowed: false, RetryAfter: rec.blockExpiry.Sub(now)}
		}
		rec.blocked = false
	}

	// Step 3: prune to the sliding window.
	cutoff := now.Add(-window)
	pruned := rec.requests[:0]
	for _, t := range rec.requests {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	rec.requests = pruned

	// Step 4: overflow triggers a one-hour block.
	if len(rec.requests) >= maxRequests {
		rec.blocked = true
		rec.blockExpiry = now.Add(blockDuration)
		return Result{Allowed: false, RetryAfter: blockDuration}
	}

	// Step 5: record this request.
	rec.requests = append(rec.requests, now)
	return Result{Allowed: true, Remaining: maxRequests - len(rec.requests)}
}

// Clear removes all state for a client.
func (s *Store) Clear(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
}

// Destroy stops the sweeper goroutine and waits for it to exit.
func (s *Store) Destroy() {
	close(s.stop)
	<-s.done
}

func (s *Store) sweep() {
	defer close(s.done)
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce(time.Now())
		case <-s.stop:
			return
		}
	}
}

func (s *Store) sweepOnce(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.clients {
		if rec.blocked {
			continue
		}
		if len(rec.requests) == 0 {
			delete(s.clients, id)
			continue
		}
		newest := rec.requests[len(rec.requests)-1]
		if now.Sub(newest) > time.Hour {
			delete(s.clients, id)
		}
	}
}
