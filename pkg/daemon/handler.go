//go:build linux

package daemon

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net"
	"sync"

	"github.com/dnakov/vmcage/pkg/provisioner"
	"github.com/dnakov/vmcage/pkg/vfsaudit"
	"github.com/dnakov/vmcage/pkg/wire"
)

// Daemon owns the process and session registries for its lifetime and
// accepts WebSocket control connections.
type Daemon struct {
	processes  *ProcessRegistry
	sessions   *SessionRegistry
	sessionMgr *SessionManager
	audit      *vfsaudit.Engine
}

func New() *Daemon {
	processes := NewProcessRegistry()
	sessions := NewSessionRegistry()
	return &Daemon{
		processes:  processes,
		sessions:   sessions,
		sessionMgr: NewSessionManager(sessions, provisioner.Shell{}),
		audit:      vfsaudit.NewEngine(1000),
	}
}

// Serve accepts connections on ln until it returns an error (e.g. on
// listener close). Each connection is handled on a fresh worker; workers
// never share another connection's write half.
func (d *Daemon) Serve(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		go d.handleConn(nc)
	}
}

func (d *Daemon) handleConn(nc net.Conn) {
	defer nc.Close()
	conn, err := wire.ServerHandshake(nc)
	if err != nil {
		log.Printf("[vmd] handshake failed from %s: %v", nc.RemoteAddr(), err)
		return
	}

	var writeMu sync.Mutex
	sup := NewSupervisor(d.processes, &writeMu, conn)

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		d.dispatch(conn, &writeMu, sup, frame)
	}
}

func writeFrame(conn *wire.Conn, mu *sync.Mutex, typ byte, payload any) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteMessage(wire.Frame{Type: typ, Payload: buf})
}

func writeError(conn *wire.Conn, mu *sync.Mutex, id uint32, code int, message string) {
	writeFrame(conn, mu, wire.TypeError, ErrorResponse{ID: id, Code: code, Message: message})
}

// dispatch routes one decoded frame to its handler. Unknown types are
// silently ignored; a handler panic or error never tears down the loop.
func (d *Daemon) dispatch(conn *wire.Conn, mu *sync.Mutex, sup *Supervisor, frame wire.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[vmd] handler for frame type 0x%02x panicked: %v", frame.Type, r)
		}
	}()
	switch frame.Type {
	case wire.TypePing:
		writeFrame(conn, mu, wire.TypePong, struct{}{})

	case wire.TypeSpawn:
		var req SpawnRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writeError(conn, mu, 0, CodeInvalidParams, err.Error())
			return
		}
		rec, err := sup.Spawn(req)
		if err != nil {
			writeError(conn, mu, req.ID, CodeSpawnFailed, err.Error())
			return
		}
		writeFrame(conn, mu, wire.TypeSpawned, SpawnedResponse{ID: req.ID, PID: rec.PID, Handle: rec.Handle})

	case wire.TypeStdin:
		var req StdinRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		_ = sup.WriteStdin(req.Handle, req.Data)

	case wire.TypeKill:
		var req KillRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		_ = sup.Kill(req.Handle, req.Signal)

	case wire.TypeResize:
		var req ResizeRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		_ = sup.Resize(req.Handle, req.Rows, req.Cols)

	case wire.TypeMount:
		var req MountRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writeError(conn, mu, req.ID, CodeInvalidParams, err.Error())
			return
		}
		err := d.audit.Record(vfsaudit.OpMount, req.MountPoint, func() error {
			return Mount(req.Tag, req.MountPoint, req.ReadOnly)
		})
		if err != nil {
			writeError(conn, mu, req.ID, CodeMountFailed, err.Error())
			return
		}
		writeFrame(conn, mu, wire.TypeOK, OKResponse{})

	case wire.TypeUnmount:
		var req UnmountRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writeError(conn, mu, req.ID, CodeInvalidParams, err.Error())
			return
		}
		if err := Unmount(req.MountPoint); err != nil {
			writeError(conn, mu, req.ID, CodeMountFailed, err.Error())
			return
		}
		writeFrame(conn, mu, wire.TypeOK, OKResponse{})

	case wire.TypeSessionCreate:
		var req SessionCreateRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writeError(conn, mu, req.ID, CodeInvalidParams, err.Error())
			return
		}
		s, err := d.sessionMgr.Create(req.UID, req.Username)
		if err != nil {
			writeError(conn, mu, req.ID, CodeUserCreateFailed, err.Error())
			return
		}
		writeFrame(conn, mu, wire.TypeOK, OKResponse{UID: s.UID, GID: s.GID, Username: s.Username, HomeDir: s.HomeDir})

	case wire.TypeSessionDestroy:
		var req SessionDestroyRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writeError(conn, mu, req.ID, CodeInvalidParams, err.Error())
			return
		}
		_ = d.sessionMgr.Destroy(req.UID, req.DeleteHome)
		writeFrame(conn, mu, wire.TypeOK, OKResponse{})

	case wire.TypeBinaryInstall:
		var req BinaryInstallRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writeError(conn, mu, req.ID, CodeInvalidParams, err.Error())
			return
		}
		destPath := "/usr/local/bin/" + req.Name
		err := d.audit.Record(vfsaudit.OpBinaryInstall, destPath, func() error {
			return InstallBinary(req.Name, req.Data, req.Executable)
		})
		if err != nil {
			writeError(conn, mu, req.ID, CodeInstallFailed, err.Error())
			return
		}
		writeFrame(conn, mu, wire.TypeOK, OKResponse{})

	case wire.TypeFSRead, wire.TypeLoadState:
		var req FSReadRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writeError(conn, mu, req.ID, CodeInvalidParams, err.Error())
			return
		}
		var raw []byte
		err := d.audit.Record(vfsaudit.OpFSRead, req.Path, func() error {
			var readErr error
			raw, readErr = ReadFile(req.Path)
			return readErr
		})
		if err != nil {
			writeError(conn, mu, req.ID, CodeInternalError, err.Error())
			return
		}
		writeFrame(conn, mu, wire.TypeData, DataResponse{Data: base64.StdEncoding.EncodeToString(raw)})

	case wire.TypeIsRunning:
		var req IsRunningRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		running, pid := sup.IsRunning(req.Handle)
		writeFrame(conn, mu, wire.TypeRunningStatus, RunningStatusResponse{Handle: req.Handle, Running: running, PID: pid})

	default:
		// unknown types are silently ignored
	}
}
