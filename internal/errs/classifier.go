package errs

import "strings"

// Classifier maps a raw driver error to a Kind. Dialects (C4/C5) each own one
// instance populated with their engine's SQLSTATE codes and message
// substrings; the plugin service (C7) calls through this interface rather
// than switching on concrete driver error types, so adding a new engine never
// touches C7/C12/C13.
//
// The interface itself is grounded on bassosimone-nop's ErrClassifier
// (Classify(error) string): the same function-adapter shape, specialized
// from a free-form label to the closed Kind enum this design needs.
type Classifier interface {
	Classify(err error) Kind
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(error) Kind

func (f ClassifierFunc) Classify(err error) Kind { return f(err) }

// DefaultClassifier never recognizes anything; dialects that have not wired
// a real table fall back to it and every error classifies as KindUnknown.
var DefaultClassifier Classifier = ClassifierFunc(func(error) Kind { return KindUnknown })

// Rule is one entry in a per-engine classification table. A rule matches on
// SQLState (exact, case-sensitive, as engines report it) and/or Substring
// (case-insensitive match against the error's message); either may be left
// empty to match on the other alone.
type Rule struct {
	SQLState  string
	Substring string
	Kind      Kind
}

// SQLStateSource is implemented by driver errors that expose a SQLSTATE code,
// e.g. *pq.Error from lib/pq via its Code field stringified.
type SQLStateSource interface {
	SQLState() string
}

// TableClassifier classifies by walking an ordered list of Rules: the first
// matching rule wins. This is the "per-engine lists of SQLSTATE codes and
// error-message substrings" spec §4.9 describes for the Postgres Multi-AZ
// example (28P01 -> AccessError; "Connection terminated" etc -> NetworkError).
type TableClassifier struct {
	rules []Rule
}

// NewTableClassifier builds a classifier from rules, evaluated in order.
func NewTableClassifier(rules []Rule) *TableClassifier {
	return &TableClassifier{rules: append([]Rule(nil), rules...)}
}

func (c *TableClassifier) Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	// An error already tagged by this package (e.g. re-classification after
	// a wrap) keeps its tag rather than being reclassified from its message.
	if k := KindOf(err); k != KindUnknown {
		return k
	}

	var sqlState string
	if src, ok := err.(SQLStateSource); ok {
		sqlState = src.SQLState()
	}
	msg := strings.ToLower(err.Error())

	for _, r := range c.rules {
		if r.SQLState != "" && r.SQLState == sqlState {
			return r.Kind
		}
		if r.Substring != "" && strings.Contains(msg, strings.ToLower(r.Substring)) {
			return r.Kind
		}
	}
	return KindUnknown
}
