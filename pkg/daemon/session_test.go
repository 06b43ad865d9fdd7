//go:build linux

package daemon

import (
	"testing"

	"github.com/dnakov/vmcage/pkg/provisioner"
	"github.com/stretchr/testify/require"
)

func TestSessionManager_CreateIsIdempotent(t *testing.T) {
	registry := NewSessionRegistry()
	fake := provisioner.NewFake()
	mgr := NewSessionManager(registry, fake)

	first, err := mgr.Create(2001, "")
	require.NoError(t, err)

	second, err := mgr.Create(2001, "")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 2001, first.UID)
	require.Equal(t, 2001, first.GID)
	require.Equal(t, "session2001", first.Username)
	require.Equal(t, "/home/2001", first.HomeDir)
	require.Len(t, fake.Users, 1)
}

func TestSessionManager_DestroyRemovesRegistryEntry(t *testing.T) {
	registry := NewSessionRegistry()
	fake := provisioner.NewFake()
	mgr := NewSessionManager(registry, fake)

	_, err := mgr.Create(3001, "builder")
	require.NoError(t, err)

	require.NoError(t, mgr.Destroy(3001, false))

	_, ok := registry.Get(3001)
	require.False(t, ok)
}
