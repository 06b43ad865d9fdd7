package main

import (
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/dnakov/vmcage/pkg/wire"
)

// webPage is the static terminal front-end vmctl web serves. Its JS opens
// a WebSocket back to this same process's /ws route, which relays frames
// to the guest daemon; the terminal rendering itself is out of scope.
const webPage = `<!DOCTYPE html>
<html>
<head><title>vmcage console</title></head>
<body>
<pre id="out" style="background:#000;color:#0f0;padding:1em;height:90vh;overflow:auto"></pre>
<script>
const out = document.getElementById('out');
const ws = new WebSocket('ws://' + location.host + '/ws');
ws.binaryType = 'arraybuffer';
ws.onmessage = (ev) => {
  out.textContent += new TextDecoder().decode(ev.data);
  out.scrollTop = out.scrollHeight;
};
</script>
</body>
</html>`

var webCmd = &cobra.Command{
	Use:   "web <port> [http-port]",
	Short: "Serve a browser terminal that proxies to the guest WebSocket",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runWeb,
}

func init() {
	rootCmd.AddCommand(webCmd)
}

func runWeb(cmd *cobra.Command, args []string) error {
	guestPort, err := resolvePort(args[0])
	if err != nil {
		return err
	}
	httpPort := "8090"
	if len(args) == 2 {
		httpPort = args[1]
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(webPage))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocketProxy(w, r, guestPort)
	})

	addr := "0.0.0.0:" + httpPort
	fmt.Printf("serving vmcage console on http://%s (guest port %d)\n", addr, guestPort)
	return http.ListenAndServe(addr, mux)
}

// handleWebSocketProxy hijacks the HTTP connection to complete the
// server-side WebSocket handshake with the browser, dials the guest as a
// client, and relays frames bidirectionally until either side closes.
func handleWebSocketProxy(w http.ResponseWriter, r *http.Request, guestPort int) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	browserConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer browserConn.Close()

	browser, err := wire.ServerHandshake(browserConn)
	if err != nil {
		return
	}

	guestConn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", guestPort))
	if err != nil {
		return
	}
	defer guestConn.Close()

	guest, err := wire.ClientHandshake(guestConn, fmt.Sprintf("127.0.0.1:%d", guestPort), "/")
	if err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go relayFrames(browser, guest, done)
	go relayFrames(guest, browser, done)
	<-done
}

func relayFrames(src, dst *wire.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		frame, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(frame); err != nil {
			return
		}
	}
}
