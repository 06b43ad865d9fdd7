package hoststate

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	reg := Open(t.TempDir())
	defer reg.Close()

	id, err := reg.Register(os.Getpid(), 8080, "/var/lib/vmcage/rootfs")
	require.NoError(t, err)

	vm, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, vm.Status)
	require.Equal(t, 8080, vm.Port)
}

func TestGetReclassifiesDeadProcessAsCrashed(t *testing.T) {
	reg := Open(t.TempDir())
	defer reg.Close()

	id, err := reg.Register(999999999, 8081, "/var/lib/vmcage/rootfs")
	require.NoError(t, err)

	vm, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCrashed, vm.Status)
}

func TestMarkStoppedUnknownID(t *testing.T) {
	reg := Open(t.TempDir())
	defer reg.Close()

	err := reg.MarkStopped("does-not-exist")
	require.Error(t, err)
}

func TestGCRemovesStoppedAndCrashed(t *testing.T) {
	reg := Open(t.TempDir())
	defer reg.Close()

	stopped, err := reg.Register(os.Getpid(), 8082, "/rootfs")
	require.NoError(t, err)
	require.NoError(t, reg.MarkStopped(stopped))

	crashed, err := reg.Register(999999998, 8083, "/rootfs")
	require.NoError(t, err)

	alive, err := reg.Register(os.Getpid(), 8084, "/rootfs")
	require.NoError(t, err)

	removed, err := reg.GC()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{stopped, crashed}, removed)

	_, err = reg.Get(alive)
	require.NoError(t, err)
	_, err = reg.Get(stopped)
	require.Error(t, err)
}

func TestReopenSkipsAppliedMigrations(t *testing.T) {
	dir := t.TempDir()

	reg := Open(dir)
	id, err := reg.Register(os.Getpid(), 8085, "/rootfs")
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	reopened := Open(dir)
	defer reopened.Close()

	vm, err := reopened.Get(id)
	require.NoError(t, err)
	require.Equal(t, 8085, vm.Port)

	var count int
	require.NoError(t, reopened.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = 1`).Scan(&count))
	require.Equal(t, 1, count)
}
