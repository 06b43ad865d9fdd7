package wire

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcceptKey_RFC6455Vector(t *testing.T) {
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", acceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestHandshake_ClientServer(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverDone := make(chan *Conn, 1)
	serverErr := make(chan error, 1)
	go func() {
		c, err := ServerHandshake(serverConn)
		if err != nil {
			serverErr <- err
			return
		}
		serverDone <- c
	}()

	clientWS, err := ClientHandshake(clientConn, "guest:8080", "/")
	require.NoError(t, err)

	select {
	case err := <-serverErr:
		t.Fatalf("server handshake failed: %v", err)
	case serverWS := <-serverDone:
		testFrameRoundTrip(t, clientWS, serverWS)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server handshake")
	}
}

func testFrameRoundTrip(t *testing.T, client, server *Conn) {
	t.Helper()
	msg := Frame{Type: TypeSpawn, Payload: []byte(`{"id":1,"command":"/bin/echo"}`)}

	writeErr := make(chan error, 1)
	go func() { writeErr <- client.WriteMessage(msg) }()

	got, err := server.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, <-writeErr)
	require.Equal(t, msg, got)
}

func TestFrame_LargePayloadLengthEncoding(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := &Conn{nc: serverConn, isMask: false, r: bufio.NewReader(serverConn)}
	client := &Conn{nc: clientConn, isMask: true, r: bufio.NewReader(clientConn)}

	payload := make([]byte, 70000)
	for i := range payload {
		payload[i] = byte(i)
	}

	writeErr := make(chan error, 1)
	go func() { writeErr <- client.WriteFrame(payload) }()

	got, err := server.ReadFrame()
	require.NoError(t, err)
	require.NoError(t, <-writeErr)
	require.Equal(t, payload, got)
}
