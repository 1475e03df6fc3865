package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSQLState string

func (f fakeSQLState) Error() string   { return "driver: fake failure" }
func (f fakeSQLState) SQLState() string { return string(f) }

func TestTableClassifierSQLState(t *testing.T) {
	c := NewTableClassifier([]Rule{
		{SQLState: "28P01", Kind: KindAccess},
		{Substring: "connection terminated", Kind: KindNetwork},
	})

	assert.Equal(t, KindAccess, c.Classify(fakeSQLState("28P01")))
	assert.Equal(t, KindUnknown, c.Classify(fakeSQLState("42601")))
}

func TestTableClassifierSubstring(t *testing.T) {
	c := NewTableClassifier([]Rule{
		{Substring: "Query read timeout", Kind: KindNetwork},
	})
	assert.Equal(t, KindNetwork, c.Classify(New(KindUnknown, "Query read timeout exceeded")))
}

func TestWrapPreservesKindAndCause(t *testing.T) {
	cause := New(KindUnknown, "boom")
	wrapped := Wrap(KindNetwork, cause, "connect failed")
	assert.True(t, Is(wrapped, KindNetwork))
	assert.ErrorIs(t, wrapped, cause)
}

func TestFailoverSuccessIsNotTrigger(t *testing.T) {
	assert.False(t, IsFailoverTrigger(FailoverSuccessError("w2")))
	assert.True(t, IsFailoverTrigger(NetworkError(New(KindUnknown, "reset"), "conn reset")))
}
