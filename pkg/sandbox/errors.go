package sandbox

import "errors"

var (
	ErrUnshareFailed   = errors.New("unshare namespaces failed")
	ErrWriteIDMap      = errors.New("write uid/gid map failed")
	ErrSetHostname     = errors.New("set hostname failed")
	ErrMountFailed     = errors.New("bind/tmpfs mount failed")
	ErrPivotRootFailed = errors.New("pivot_root failed")
	ErrCredentialDrop  = errors.New("credential drop failed")
	ErrSeccompInstall  = errors.New("seccomp install failed")
	ErrExecFailed      = errors.New("exec target command failed")
	ErrStage2Failed    = errors.New("stage2 jail setup failed")
	ErrSnapshotWrite   = errors.New("write sandbox config snapshot failed")
	ErrNetSetup        = errors.New("sandbox network setup failed")
)
