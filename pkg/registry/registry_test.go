package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OxideDevX/prana-rc/internal/testutils"
	"github.com/OxideDevX/prana-rc/pkg/registry"
	"github.com/OxideDevX/prana-rc/pkg/session"
)

func newRegistry(t *testing.T, tr *testutils.FakeTransport) *registry.Registry {
	helper := testutils.NewTestHelper(t)
	policy := session.DefaultPolicy()
	policy.BackoffBase = time.Millisecond
	policy.BackoffCap = 2 * time.Millisecond
	return registry.New(tr, policy, helper.Logger)
}

func TestRegistry_GetCreatesLazily(t *testing.T) {
	tr := &testutils.FakeTransport{}
	r := newRegistry(t, tr)

	s := r.Get("AA:BB:CC:DD:EE:01")
	require.NotNil(t, s)
	assert.Zero(t, tr.Connects(), "session creation must not connect")

	assert.Same(t, s, r.Get("AA:BB:CC:DD:EE:01"))
}

func TestRegistry_GetExactlyOnceUnderConcurrency(t *testing.T) {
	tr := &testutils.FakeTransport{}
	r := newRegistry(t, tr)

	const callers = 16
	sessions := make([]*session.Session, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			sessions[i] = r.Get("AA:BB:CC:DD:EE:02")
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

func TestRegistry_Lookup(t *testing.T) {
	tr := &testutils.FakeTransport{}
	r := newRegistry(t, tr)

	_, ok := r.Lookup("AA:BB:CC:DD:EE:03")
	assert.False(t, ok)

	s := r.Get("AA:BB:CC:DD:EE:03")
	got, ok := r.Lookup("AA:BB:CC:DD:EE:03")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistry_List(t *testing.T) {
	tr := &testutils.FakeTransport{}
	r := newRegistry(t, tr)

	r.Register(registry.DeviceInfo{Address: "AA:BB:CC:DD:EE:04", Name: "Kitchen", RSSI: -60})
	s := r.Get("AA:BB:CC:DD:EE:04")
	_, err := s.State(context.Background(), true)
	require.NoError(t, err)

	entries := r.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "Kitchen", entries[0].Name)
	require.NotNil(t, entries[0].State)
	assert.True(t, entries[0].State.IsOn)
}

func TestRegistry_EvictIdle(t *testing.T) {
	tr := &testutils.FakeTransport{}
	r := newRegistry(t, tr)

	s := r.Get("AA:BB:CC:DD:EE:05")
	_, err := s.State(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, 1, tr.Connects())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r.EvictIdle(10*time.Millisecond))
	assert.Zero(t, tr.OpenConns())

	// A subsequent get constructs a brand new session that connects
	// again on first use.
	s2 := r.Get("AA:BB:CC:DD:EE:05")
	assert.NotSame(t, s, s2)
	_, err = s2.State(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Connects())
}

func TestRegistry_EvictIdleSkipsActiveSessions(t *testing.T) {
	tr := &testutils.FakeTransport{}
	r := newRegistry(t, tr)

	s := r.Get("AA:BB:CC:DD:EE:06")
	_, err := s.State(context.Background(), true)
	require.NoError(t, err)

	assert.Zero(t, r.EvictIdle(time.Hour))
	_, ok := r.Lookup("AA:BB:CC:DD:EE:06")
	assert.True(t, ok)
}

func TestRegistry_Remove(t *testing.T) {
	tr := &testutils.FakeTransport{}
	r := newRegistry(t, tr)

	assert.ErrorIs(t, r.Remove("AA:BB:CC:DD:EE:07"), registry.ErrUnknownDevice)

	s := r.Get("AA:BB:CC:DD:EE:07")
	_, err := s.State(context.Background(), true)
	require.NoError(t, err)

	require.NoError(t, r.Remove("AA:BB:CC:DD:EE:07"))
	assert.Zero(t, tr.OpenConns())
	_, ok := r.Lookup("AA:BB:CC:DD:EE:07")
	assert.False(t, ok)
}

func TestRegistry_CloseAll(t *testing.T) {
	tr := &testutils.FakeTransport{}
	r := newRegistry(t, tr)

	for _, addr := range []string{"AA:BB:CC:DD:EE:08", "AA:BB:CC:DD:EE:09"} {
		_, err := r.Get(addr).State(context.Background(), true)
		require.NoError(t, err)
	}
	require.Equal(t, 2, tr.OpenConns())

	r.CloseAll()
	assert.Zero(t, tr.OpenConns())
}
