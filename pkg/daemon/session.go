//go:build linux

package daemon

import (
	"fmt"
	"log"
	"os"

	"github.com/dnakov/vmcage/pkg/provisioner"
)

// Session is a provisioned system account backing a sandboxed uid.
type Session struct {
	UID      int
	GID      int
	Username string
	HomeDir  string
}

// SessionManager creates and destroys sessions via a pluggable Provisioner.
type SessionManager struct {
	registry    *SessionRegistry
	provisioner provisioner.Provisioner
}

func NewSessionManager(registry *SessionRegistry, p provisioner.Provisioner) *SessionManager {
	return &SessionManager{registry: registry, provisioner: p}
}

// Create provisions (idempotently) a session for uid.
func (m *SessionManager) Create(uid int, username string) (*Session, error) {
	if s, ok := m.registry.Get(uid); ok {
		return s, nil
	}

	if username == "" {
		username = fmt.Sprintf("session%d", uid)
	}
	home := fmt.Sprintf("/home/%d", uid)
	gid := uid

	if err := m.provisioner.EnsureGroup(gid, username); err != nil {
		return nil, err
	}
	if err := m.provisioner.EnsureUser(uid, gid, username, home, "/bin/bash"); err != nil {
		return nil, err
	}
	if err := provisioner.EnsureHomeDirs(home); err != nil {
		return nil, err
	}
	if err := m.provisioner.RecursiveChown(home, uid, gid); err != nil {
		return nil, err
	}

	s := &Session{UID: uid, GID: gid, Username: username, HomeDir: home}
	m.registry.Insert(s)
	return s, nil
}

// Destroy removes the session from the registry and best-effort tears
// down its backing account; failures here are logged, not propagated,
// since the registry removal has already taken effect.
func (m *SessionManager) Destroy(uid int, deleteHome bool) error {
	s, ok := m.registry.Get(uid)
	if !ok {
		return nil
	}
	m.registry.Remove(uid)

	if deleteHome {
		if err := os.RemoveAll(s.HomeDir); err != nil {
			log.Printf("[vmd] remove home dir for uid %d (%s): %v", uid, s.HomeDir, err)
		}
	}
	if err := m.provisioner.DeleteUser(s.Username); err != nil {
		log.Printf("[vmd] delete user %q for uid %d: %v", s.Username, uid, err)
	}
	return nil
}
