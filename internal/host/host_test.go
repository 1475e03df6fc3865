package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotOrdersWriterFirst(t *testing.T) {
	r1 := New("reader1.example.com", 5432, "r1", RoleReader)
	w := New("writer.example.com", 5432, "w1", RoleWriter)
	r2 := New("reader2.example.com", 5432, "r2", RoleReader)

	snap, err := NewSnapshot([]*Host{r1, w, r2})
	require.NoError(t, err)
	assert.Same(t, w, snap.Writer())
	assert.Equal(t, w, snap.Hosts[0])
	assert.Len(t, snap.Readers(), 2)
}

func TestSnapshotRejectsMultipleWriters(t *testing.T) {
	w1 := New("a.example.com", 5432, "a", RoleWriter)
	w2 := New("b.example.com", 5432, "b", RoleWriter)
	_, err := NewSnapshot([]*Host{w1, w2})
	assert.Error(t, err)
}

func TestHostKeyEquality(t *testing.T) {
	h := New("db.example.com", 5432, "id", RoleWriter)
	assert.Equal(t, "db.example.com:5432", h.Key())
}

func TestAvailabilityMutatesInPlace(t *testing.T) {
	h := New("db.example.com", 5432, "id", RoleReader)
	assert.Equal(t, Available, h.GetAvailability())
	h.SetAvailability(Unavailable)
	assert.Equal(t, Unavailable, h.GetAvailability())
}

func TestBoxLoadStoreAtomicity(t *testing.T) {
	var box Box
	assert.Nil(t, box.Load())

	s1, _ := NewSnapshot([]*Host{New("a", 5432, "a", RoleWriter)})
	box.Store(s1)
	assert.Same(t, s1, box.Load())

	s2, _ := NewSnapshot([]*Host{New("b", 5432, "b", RoleWriter)})
	box.Store(s2)
	assert.Same(t, s2, box.Load())
}
