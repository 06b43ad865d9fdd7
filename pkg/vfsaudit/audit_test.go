//go:build linux

package vfsaudit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordCapturesBeforeAfter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	e := NewEngine(0)
	err := e.Record(OpFSRead, path, func() error {
		return os.WriteFile(path, []byte("ab"), 0644)
	})
	require.NoError(t, err)

	events := e.Events()
	require.Len(t, events, 1)
	require.Equal(t, OpFSRead, events[0].Op)
	require.NotNil(t, events[0].Before)
	require.NotNil(t, events[0].After)
	require.Equal(t, uint64(1), events[0].Before.Size)
	require.Equal(t, uint64(2), events[0].After.Size)
}

func TestRecordCapturesError(t *testing.T) {
	e := NewEngine(0)
	err := e.Record(OpBinaryInstall, "/nonexistent/path", func() error {
		return os.ErrNotExist
	})
	require.Error(t, err)

	events := e.Events()
	require.Len(t, events, 1)
	require.Nil(t, events[0].Before)
	require.NotEmpty(t, events[0].Err)
}

func TestEventCallback(t *testing.T) {
	e := NewEngine(2)
	var seen []Op
	e.SetEventFunc(func(evt Event) { seen = append(seen, evt.Op) })

	for i := 0; i < 3; i++ {
		_ = e.Record(OpMount, "/tmp", func() error { return nil })
	}

	require.Equal(t, []Op{OpMount, OpMount, OpMount}, seen)
	require.Len(t, e.Events(), 2)
}
