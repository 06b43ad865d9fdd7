// Package hoststate tracks running sandboxes on the host: their process
// id, control-plane port, and rootfs path, surviving across vmctl
// invocations via a local SQLite registry.
package hoststate

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dnakov/vmcage/internal/errx"
)

const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusCrashed = "crashed"
)

// VM is one row of the registry.
type VM struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	Rootfs    string    `json:"rootfs"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry is a handle to the on-disk VM registry rooted at baseDir.
type Registry struct {
	baseDir string
	db      *sql.DB
	initErr error
}

// DefaultBaseDir is ~/.vmcage, mirroring the guest daemon's sibling host
// state directory convention.
func DefaultBaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vmcage")
}

// Open opens (creating if needed) the registry rooted at baseDir.
func Open(baseDir string) *Registry {
	_ = os.MkdirAll(baseDir, 0700)
	db, err := openRegistryDB(baseDir)
	return &Registry{baseDir: baseDir, db: db, initErr: err}
}

func (r *Registry) ready() error {
	if r.initErr != nil {
		return errx.Wrap(ErrOpen, r.initErr)
	}
	if r.db == nil {
		return ErrOpen
	}
	return nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Register inserts a new VM row with a freshly generated id and
// status "running", returning the assigned id.
func (r *Registry) Register(pid, port int, rootfs string) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	// Fixed-width fractional seconds keep created_at strings ordered by
	// time, which List's ORDER BY relies on.
	now := time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
	_, err := r.db.Exec(
		`INSERT INTO vms (id, pid, port, rootfs, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, pid, port, rootfs, StatusRunning, now, now,
	)
	if err != nil {
		return "", errx.Wrap(ErrInsert, err)
	}
	return id, nil
}

// MarkStopped flips a VM's status to stopped and clears its pid.
func (r *Registry) MarkStopped(id string) error {
	if err := r.ready(); err != nil {
		return err
	}
	res, err := r.db.Exec(
		`UPDATE vms SET status = ?, pid = 0, updated_at = ? WHERE id = ?`,
		StatusStopped, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return errx.Wrap(ErrUpdate, err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return errx.With(ErrNotFound, ": %s", id)
	}
	return nil
}

// Get looks up a single VM by id, reclassifying it as crashed if its pid
// is no longer alive.
func (r *Registry) Get(id string) (VM, error) {
	if err := r.ready(); err != nil {
		return VM{}, err
	}
	row := r.db.QueryRow(`SELECT id, pid, port, rootfs, status, created_at FROM vms WHERE id = ?`, id)
	vm, err := scanVM(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return VM{}, errx.With(ErrNotFound, ": %s", id)
		}
		return VM{}, errx.Wrap(ErrQuery, err)
	}
	if vm.Status == StatusRunning && !isProcessRunning(vm.PID) {
		vm.Status = StatusCrashed
		_, _ = r.db.Exec(`UPDATE vms SET status = ?, updated_at = ? WHERE id = ?`,
			StatusCrashed, time.Now().UTC().Format(time.RFC3339Nano), id)
	}
	return vm, nil
}

// List returns every registered VM, newest first, reclassifying any
// whose pid is no longer alive as crashed.
func (r *Registry) List() ([]VM, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(`SELECT id, pid, port, rootfs, status, created_at FROM vms ORDER BY created_at DESC`)
	if err != nil {
		return nil, errx.Wrap(ErrQuery, err)
	}
	defer rows.Close()

	var vms []VM
	var crashed []string
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, errx.Wrap(ErrQuery, err)
		}
		if vm.Status == StatusRunning && !isProcessRunning(vm.PID) {
			vm.Status = StatusCrashed
			crashed = append(crashed, vm.ID)
		}
		vms = append(vms, vm)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.Wrap(ErrQuery, err)
	}
	if err := rows.Close(); err != nil {
		return nil, errx.Wrap(ErrQuery, err)
	}

	updatedAt := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range crashed {
		if _, err := r.db.Exec(`UPDATE vms SET status = ?, updated_at = ? WHERE id = ?`, StatusCrashed, updatedAt, id); err != nil {
			return nil, errx.Wrap(ErrQuery, err)
		}
	}
	return vms, nil
}

// GC removes every stopped or crashed VM row, returning the removed ids.
func (r *Registry) GC() ([]string, error) {
	vms, err := r.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, vm := range vms {
		if vm.Status == StatusCrashed || vm.Status == StatusStopped {
			if _, err := r.db.Exec(`DELETE FROM vms WHERE id = ?`, vm.ID); err != nil {
				return removed, errx.Wrap(ErrDelete, err)
			}
			removed = append(removed, vm.ID)
		}
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVM(s rowScanner) (VM, error) {
	var vm VM
	var createdAt string
	if err := s.Scan(&vm.ID, &vm.PID, &vm.Port, &vm.Rootfs, &vm.Status, &createdAt); err != nil {
		return VM{}, err
	}
	if createdAt != "" {
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return VM{}, err
		}
		vm.CreatedAt = t
	}
	return vm, nil
}

func isProcessRunning(pid int) bool {
	if pid == 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Kill sends SIGTERM to a running VM's process.
func (r *Registry) Kill(id string) error {
	vm, err := r.Get(id)
	if err != nil {
		return err
	}
	if vm.PID == 0 {
		return fmt.Errorf("vm %s is not running", id)
	}
	proc, err := os.FindProcess(vm.PID)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
