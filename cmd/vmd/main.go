//go:build linux

// Command vmd is the guest-resident control-plane daemon: it listens for
// WebSocket connections from the host and dispatches spawn, filesystem,
// and session operations through pkg/daemon.
package main

import (
	"log"
	"net"
	"os"

	"github.com/dnakov/vmcage/pkg/daemon"
)

func main() {
	port := os.Getenv("VMD_PORT")
	if port == "" {
		port = "8080"
	}

	addr := "0.0.0.0:" + port
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("[vmd] listen %s: %v", addr, err)
	}
	log.Printf("[vmd] listening on %s", addr)

	d := daemon.New()
	if err := d.Serve(ln); err != nil {
		log.Fatalf("[vmd] serve: %v", err)
	}
}
