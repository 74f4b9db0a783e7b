package checkout

import (
	"fmt"
	"sync"
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/cart"
)

// State of one commit attempt.
type State int

const (
	StateReviewing State = iota
	StateCommitting
	StateConfirmed
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateReviewing:
		return "reviewing"
	case StateCommitting:
		return "committing"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateAborted
}

// Review is the immutable cart snapshot a customer confirms. Committing uses
// these lines and this total, never a fresh cart read.
type Review struct {
	ReviewID   string      `json:"review_id"`
	CustomerID string      `json:"customer_id"`
	Lines      []cart.Line `json:"lines"`
	Total      cart.Total  `json:"total"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (r Review) clone() Review {
	r.Lines = append([]cart.Line(nil), r.Lines...)
	return r
}

// Attempt tracks one review through Reviewing -> Committing -> terminal.
type Attempt struct {
	mu      sync.Mutex
	review  Review
	state   State
	receipt *Receipt
}

// NewAttempt starts an attempt in Reviewing over a copy of r.
func NewAttempt(r Review) *Attempt {
	return &Attempt{review: r.clone(), state: StateReviewing}
}

func (a *Attempt) Review() Review {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.review.clone()
}

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Receipt is set once the attempt is Confirmed.
func (a *Attempt) Receipt() *Receipt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.receipt
}

// Cancel aborts a reviewing attempt. Nothing is written.
func (a *Attempt) Cancel() error {
	return a.advance(StateReviewing, StateAborted)
}

func (a *Attempt) advance(from, to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, a.state)
	}
	a.state = to
	return nil
}

func (a *Attempt) confirm(r *Receipt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateConfirmed
	a.receipt = r
}

func (a *Attempt) fail() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateFailed
}
