package vmlaunch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitConnectableSucceedsOnceListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	err = waitConnectable(context.Background(), port, time.Second, 20*time.Millisecond)
	require.NoError(t, err)
}

func TestWaitConnectableTimesOut(t *testing.T) {
	port, err := allocatePort()
	require.NoError(t, err)

	err = waitConnectable(context.Background(), port, 60*time.Millisecond, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrBootTimeout)
}

func TestWaitConnectableRespectsContextCancellation(t *testing.T) {
	port, err := allocatePort()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = waitConnectable(ctx, port, time.Second, 20*time.Millisecond)
	require.Error(t, err)
}
