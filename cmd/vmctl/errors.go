package main

import "errors"

var (
	ErrRootfsRequired = errors.New("rootfs path required")
	ErrVMNotFound      = errors.New("vm not found")
	ErrVMNotRunning    = errors.New("vm is not running")
	ErrInvalidShare    = errors.New("invalid --share value")
	ErrCommandRequired = errors.New("command required")
	ErrStartFailed     = errors.New("starting guest vm failed")
	ErrExecFailed      = errors.New("exec failed")
	ErrSetRawMode      = errors.New("setting raw terminal mode failed")
	ErrInstallFailed   = errors.New("install failed")
)
