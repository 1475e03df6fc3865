// Package txwatch tracks whether a session is currently inside an
// application-issued transaction by sniffing statement text for
// BEGIN/COMMIT/ROLLBACK (spec §4.5: "tracked by observing BEGIN/COMMIT/
// ROLLBACK statements"). Both the Failover Plugin (C12, spec §4.5's
// transaction-awareness rule) and Read/Write Splitting (C14, spec §4.7's
// "if not in a transaction" guard) need the exact same bit of bookkeeping,
// so it lives here rather than duplicated or bolted onto sessionstate.State
// (which models user-settable session flags, not a running transaction).
//
// Pattern style matches the teacher-grounded DoesStatementSetX sniffers in
// internal/dialect/postgres_database.go: anchored, case-insensitive,
// leading-whitespace-tolerant regexes.
package txwatch

import (
	"regexp"
	"sync"
)

// Boundary classifies a sniffed statement.
type Boundary int

const (
	BoundaryNone Boundary = iota
	BoundaryBegin
	BoundaryEnd
)

var (
	reBegin = regexp.MustCompile(`(?i)^\s*(BEGIN|START\s+TRANSACTION)\b`)
	reEnd   = regexp.MustCompile(`(?i)^\s*(COMMIT|ROLLBACK|END)\b`)
)

// Classify reports whether sql opens or closes a transaction.
func Classify(sql string) Boundary {
	switch {
	case reBegin.MatchString(sql):
		return BoundaryBegin
	case reEnd.MatchString(sql):
		return BoundaryEnd
	default:
		return BoundaryNone
	}
}

// Tracker holds one session's in-transaction bit. Safe for concurrent use,
// though in practice a session's own plugin chain never calls it
// concurrently with itself (spec §5); the lock only guards against a
// background abort callback reading Active while the call path writes it.
type Tracker struct {
	mu     sync.Mutex
	active bool
}

// Observe updates the tracker from a statement's text.
func (t *Tracker) Observe(sql string) {
	if sql == "" {
		return
	}
	switch Classify(sql) {
	case BoundaryBegin:
		t.mu.Lock()
		t.active = true
		t.mu.Unlock()
	case BoundaryEnd:
		t.mu.Lock()
		t.active = false
		t.mu.Unlock()
	}
}

// End unconditionally clears the in-transaction bit, for callers (e.g. an
// explicit commit/rollback chain operation rather than sniffed SQL text)
// that already know the transaction just ended.
func (t *Tracker) End() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}

// Active reports whether the session is currently inside a transaction.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
