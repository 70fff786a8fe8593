package registrar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New(nil)
	b := r.Register("100", "sip:100@10.0.0.5:5061", Transport{Addr: "10.0.0.5", Port: 5061}, 3600)
	assert.Equal(t, 1, b.RegistrationCount)

	got, ok := r.Lookup("100")
	require.True(t, ok)
	assert.Equal(t, Transport{Addr: "10.0.0.5", Port: 5061}, got.Transport)
	assert.True(t, got.ExpiresAt.After(time.Now()))
}

func TestReRegisterPreservesRegisteredAtAndBumpsCount(t *testing.T) {
	r := New(nil)
	first := r.Register("100", "sip:100@a", Transport{Addr: "1.1.1.1", Port: 1}, 3600)
	second := r.Register("100", "sip:100@a", Transport{Addr: "1.1.1.1", Port: 1}, 3600)
	assert.Equal(t, first.RegisteredAt, second.RegisteredAt)
	assert.Equal(t, 2, second.RegistrationCount)
}

func TestExpiryRemovesBindingLazily(t *testing.T) {
	r := New(nil)
	fakeNow := time.Now()
	r.now = func() time.Time { return fakeNow }
	r.Register("100", "sip:100@a", Transport{Addr: "1.1.1.1", Port: 1}, 0)

	fakeNow = fakeNow.Add(time.Second)
	_, ok := r.Lookup("100")
	assert.False(t, ok)
	assert.False(t, r.IsRegistered("100"))
}

func TestUnregister(t *testing.T) {
	r := New(nil)
	r.Register("100", "sip:100@a", Transport{Addr: "1.1.1.1", Port: 1}, 3600)
	assert.True(t, r.Unregister("100"))
	assert.False(t, r.Unregister("100"))
	_, ok := r.Lookup("100")
	assert.False(t, ok)
}

func TestCleanupRemovesExpiredBindings(t *testing.T) {
	r := New(nil)
	fakeNow := time.Now()
	r.now = func() time.Time { return fakeNow }
	r.Register("100", "sip:100@a", Transport{Addr: "1.1.1.1", Port: 1}, 1)
	r.Register("101", "sip:101@a", Transport{Addr: "1.1.1.2", Port: 1}, 3600)

	fakeNow = fakeNow.Add(2 * time.Second)
	removed := r.Cleanup()
	assert.Equal(t, 1, removed)
	assert.False(t, r.IsRegistered("100"))
	assert.True(t, r.IsRegistered("101"))
}

func TestHistoryRecordsEvents(t *testing.T) {
	r := New(nil)
	r.Register("100", "sip:100@a", Transport{Addr: "1.1.1.1", Port: 1}, 3600)
	r.Unregister("100")
	events := r.History(0, 0)
	require.Len(t, events, 2)
	assert.Equal(t, "REGISTER", events[0].Kind)
	assert.Equal(t, "UNREGISTER", events[1].Kind)
}
