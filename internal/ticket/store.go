package ticket

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultTTL is the default ticket validity window: long enough for one
// REST round trip plus opening the follow-up connection, short enough to
// bound exposure if the token leaks.
const DefaultTTL = 60 * time.Second

// tokenBytes gives 256 bits of entropy per token.
const tokenBytes = 32

type record struct {
	owner  string
	ticket Ticket
}

// Store maps opaque tokens to (owner, Ticket) pairs with at-most-once
// consumption. A mutex-guarded map is sufficient at this scale; a
// distributed KV store with atomic delete-and-return is the drop-in
// replacement for scale-out.
type Store struct {
	mu      sync.Mutex
	tickets map[string]record
	ttl     time.Duration
}

// NewStore creates a Store with the given default TTL. A non-positive ttl
// falls back to DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		tickets: make(map[string]record),
		ttl:     ttl,
	}
}

// TTL returns the store's default validity window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Issue binds a ticket to the owning identity and returns the opaque token.
// If the ticket has no expiry set, the store's default TTL is applied.
func (s *Store) Issue(owner string, t Ticket) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("ticket: generate token: %w", err)
	}
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(s.ttl)
	}

	s.mu.Lock()
	s.tickets[token] = record{owner: owner, ticket: t}
	s.mu.Unlock()
	return token, nil
}

// Consume atomically removes and returns the ticket for token. It returns
// false when the token is unknown, already consumed, expired, or bound to a
// different owner. The entry is removed even on an owner mismatch, so a
// stolen token cannot be retried against its rightful owner.
func (s *Store) Consume(owner, token string) (Ticket, bool) {
	if token == "" {
		return Ticket{}, false
	}

	s.mu.Lock()
	rec, ok := s.tickets[token]
	if ok {
		delete(s.tickets, token)
	}
	s.mu.Unlock()

	if !ok {
		return Ticket{}, false
	}
	if rec.ticket.Expired() {
		return Ticket{}, false
	}
	if owner == "" || rec.owner != owner {
		log.Printf("[ticket] owner mismatch on consume (token bound to another identity)")
		return Ticket{}, false
	}
	return rec.ticket, true
}

// Sweep removes expired entries that were never consumed and returns how
// many were dropped. Expired entries are already rejected at consume time;
// this just reclaims memory and is run from a low-priority periodic job.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, rec := range s.tickets {
		if rec.ticket.Expired() {
			delete(s.tickets, token)
			removed++
		}
	}
	return removed
}

// Len reports the number of outstanding tickets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// URL-safe without padding so the token is safe in URLs and JSON.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
