//go:build linux

package seccomp

import (
	"syscall"
	"unsafe"

	"github.com/dnakov/vmcage/internal/errx"
)

const (
	prSetNoNewPrivs  = 38
	prSetSeccomp     = 22
	seccompModeFilter = 2
)

type sockFprog struct {
	Len    uint16
	_      [6]byte
	Filter *Instruction
}

// Install enables NO_NEW_PRIVS and attaches the filter for the given
// profile to the calling thread. It must run on the thread that will
// immediately exec the sandboxed command.
func Install(profile string) error {
	prog, err := Build(profile)
	if err != nil {
		return err
	}

	if _, _, errno := syscall.RawSyscall(syscall.SYS_PRCTL, prSetNoNewPrivs, 1, 0); errno != 0 {
		return errx.Wrap(ErrNoNewPrivsFailed, errno)
	}

	fprog := sockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	if _, _, errno := syscall.RawSyscall(syscall.SYS_PRCTL, prSetSeccomp, seccompModeFilter, uintptr(unsafe.Pointer(&fprog))); errno != 0 {
		return errx.Wrap(ErrInstallFilterFailed, errno)
	}
	return nil
}
