// ABOUTME: Tests for the weak-handle session registry
// ABOUTME: Covers lookup, eager removal, exit clearing, and dead-entry pruning

package agent

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom/internal/session"
)

func TestRegistry_InsertLookupRemove(t *testing.T) {
	r := newSessionRegistry()

	s := session.New("sess-1", "/w", testLogger(), nil)
	r.insert("sess-1", s)

	got, ok := r.lookup("sess-1")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.lookup("sess-2")
	assert.False(t, ok)

	r.remove("sess-1")
	_, ok = r.lookup("sess-1")
	assert.False(t, ok)
}

func TestRegistry_RemoveAllReturnsLiveHandles(t *testing.T) {
	r := newSessionRegistry()

	a := session.New("sess-a", "/a", testLogger(), nil)
	b := session.New("sess-b", "/b", testLogger(), nil)
	r.insert("sess-a", a)
	r.insert("sess-b", b)

	live := r.removeAll()
	assert.Len(t, live, 2)
	assert.Equal(t, 0, r.len())

	// A second sweep finds nothing.
	assert.Empty(t, r.removeAll())
}

func TestRegistry_DeadEntryIsMissing(t *testing.T) {
	r := newSessionRegistry()

	s := session.New("sess-1", "/w", testLogger(), nil)
	r.insert("sess-1", s)

	s = nil
	runtime.GC()
	runtime.GC()

	_, ok := r.lookup("sess-1")
	assert.False(t, ok)
}

func TestRegistry_InsertPrunesDeadEntries(t *testing.T) {
	r := newSessionRegistry()

	dead := session.New("sess-dead", "/w", testLogger(), nil)
	r.insert("sess-dead", dead)
	dead = nil
	runtime.GC()
	runtime.GC()

	keep := session.New("sess-live", "/w", testLogger(), nil)
	r.insert("sess-live", keep)

	assert.Equal(t, 1, r.len())
	_, ok := r.lookup("sess-live")
	assert.True(t, ok)
}
