package seccomp

import "errors"

var (
	ErrUnknownProfile     = errors.New("unknown seccomp profile")
	ErrSeccompSetupFailed = errors.New("seccomp setup failed")
	ErrNoNewPrivsFailed   = errors.New("set no_new_privs failed")
	ErrInstallFilterFailed = errors.New("install seccomp filter failed")
)
