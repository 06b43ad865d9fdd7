//go:build linux

package daemon

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/dnakov/vmcage/internal/errx"
	"github.com/dnakov/vmcage/pkg/sandbox"
	"github.com/dnakov/vmcage/pkg/wire"
)

// snapshotDir holds one resolved jail Config per network-disabled spawn,
// keyed by handle, for postmortem inspection after the process exits.
const snapshotDir = "/var/lib/vmcage/snapshots"

// IO is a tagged variant distinguishing pipe-backed processes (three
// independent descriptors) from PTY-backed ones (a single master aliased
// as stdin/stdout/stderr). Keeping this as a sum type rather than three
// nullable fields means the destructor can never double-close the PTY
// master even though two logical streams point at it.
type IO interface {
	isIO()
}

type Pipes struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

func (Pipes) isIO() {}

type PTY struct {
	Master *os.File
}

func (PTY) isIO() {}

// ProcessRecord is one spawned child tracked by the supervisor.
type ProcessRecord struct {
	Handle    string
	PID       int
	ReqID     uint32
	UID       *int
	IO        IO
	Cmd       *exec.Cmd
	closeOnce sync.Once
}

// Close releases every descriptor owned by the record exactly once.
func (r *ProcessRecord) Close() {
	r.closeOnce.Do(func() {
		switch io := r.IO.(type) {
		case Pipes:
			io.Stdin.Close()
			io.Stdout.Close()
			io.Stderr.Close()
		case PTY:
			io.Master.Close()
		}
	})
}

// Supervisor owns the process registry and the WebSocket write half used
// to emit forwarded output and exit notifications.
type Supervisor struct {
	registry *ProcessRegistry
	writeMu  *sync.Mutex
	conn     *wire.Conn
}

func NewSupervisor(registry *ProcessRegistry, writeMu *sync.Mutex, conn *wire.Conn) *Supervisor {
	return &Supervisor{registry: registry, writeMu: writeMu, conn: conn}
}

func (s *Supervisor) writeFrame(typ byte, payload any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(wire.Frame{Type: typ, Payload: buf})
}

// Spawn forks the requested command, either through the sandbox helper
// (network disabled) or in-process with credentials dropped before exec
// (network enabled), and starts its forwarding/reaper tasks.
func (s *Supervisor) Spawn(req SpawnRequest) (*ProcessRecord, error) {
	handle := s.registry.Allocate()

	argv, err := buildArgv(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = buildEnv(req)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	if req.Network {
		applyCredentialDrop(cmd, req.UID, req.GID)
	} else {
		writeJailSnapshot(handle, req)
	}

	rec := &ProcessRecord{Handle: handle, ReqID: req.ID, UID: req.UID, Cmd: cmd}

	if req.PTY {
		master, err := pty.Start(cmd)
		if err != nil {
			return nil, errx.Wrap(ErrSpawnFailed, err)
		}
		rec.IO = PTY{Master: master}
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, errx.Wrap(ErrSpawnFailed, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, errx.Wrap(ErrSpawnFailed, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, errx.Wrap(ErrSpawnFailed, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, errx.Wrap(ErrSpawnFailed, err)
		}
		rec.IO = Pipes{Stdin: stdin, Stdout: stdout, Stderr: stderr}
	}

	rec.PID = cmd.Process.Pid
	s.registry.Insert(rec)
	s.startForwarders(rec)
	return rec, nil
}

// writeJailSnapshot mirrors the jail shape sandbox-helper will resolve
// from the same request into a CBOR snapshot, best-effort: a failure to
// record it never blocks a spawn.
func writeJailSnapshot(handle string, req SpawnRequest) {
	profile := req.SeccompProfile
	if profile == "" {
		profile = "default"
	}
	cfg := sandbox.New(req.UID, req.GID, profile, req.Network)
	if req.Cwd != "" {
		cfg.Cwd = req.Cwd
	}
	_ = os.MkdirAll(snapshotDir, 0700)
	_ = sandbox.WriteSnapshot(filepath.Join(snapshotDir, handle+".cbor"), cfg)
}

func (s *Supervisor) startForwarders(rec *ProcessRecord) {
	switch io := rec.IO.(type) {
	case PTY:
		go s.forward(rec.ReqID, wire.TypeStdout, io.Master)
	case Pipes:
		go s.forward(rec.ReqID, wire.TypeStdout, io.Stdout)
		go s.forward(rec.ReqID, wire.TypeStderr, io.Stderr)
	}
	go s.reap(rec)
}

func (s *Supervisor) forward(reqID uint32, frameType byte, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			var payload any
			if frameType == wire.TypeStdout {
				payload = StdoutResponse{ID: reqID, Data: string(buf[:n])}
			} else {
				payload = StderrResponse{ID: reqID, Data: string(buf[:n])}
			}
			s.writeFrame(frameType, payload)
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) reap(rec *ProcessRecord) {
	err := rec.Cmd.Wait()
	code, sig := exitStatus(err)
	resp := ExitResponse{ID: rec.ReqID, Code: code}
	if sig != nil {
		resp.Signal = sig
	}
	s.writeFrame(wire.TypeExit, resp)
	rec.Close()
	s.registry.Remove(rec.Handle)
}

func exitStatus(err error) (code int, signal *int) {
	if err == nil {
		return 0, nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, nil
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode(), nil
	}
	if status.Signaled() {
		s := int(status.Signal())
		return -1, &s
	}
	return status.ExitStatus(), nil
}

// Kill signals the target process, defaulting to SIGTERM.
func (s *Supervisor) Kill(handle string, sig int) error {
	rec, ok := s.registry.Get(handle)
	if !ok {
		log.Printf("[vmd] kill: unknown handle %q ignored", handle)
		return nil // spec: missing handles are ignored silently
	}
	if sig == 0 {
		sig = int(syscall.SIGTERM)
	}
	return rec.Cmd.Process.Signal(syscall.Signal(sig))
}

// WriteStdin routes data to a process's stdin, ignoring unknown handles.
func (s *Supervisor) WriteStdin(handle, data string) error {
	rec, ok := s.registry.Get(handle)
	if !ok {
		log.Printf("[vmd] stdin: unknown handle %q ignored", handle)
		return nil
	}
	switch io := rec.IO.(type) {
	case PTY:
		_, err := io.Master.Write([]byte(data))
		return err
	case Pipes:
		_, err := io.Stdin.Write([]byte(data))
		return err
	}
	return nil
}

// Resize updates a PTY's window size; a no-op for pipe-backed processes.
func (s *Supervisor) Resize(handle string, rows, cols int) error {
	rec, ok := s.registry.Get(handle)
	if !ok {
		return nil
	}
	ptyIO, ok := rec.IO.(PTY)
	if !ok {
		return nil
	}
	return pty.Setsize(ptyIO.Master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// IsRunning reports liveness via a kill(pid, 0) probe.
func (s *Supervisor) IsRunning(handle string) (running bool, pid int) {
	rec, ok := s.registry.Get(handle)
	if !ok {
		return false, 0
	}
	if err := rec.Cmd.Process.Signal(syscall.Signal(0)); err != nil {
		return false, 0
	}
	return true, rec.PID
}
