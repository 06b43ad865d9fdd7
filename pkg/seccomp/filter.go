// Package seccomp builds classic BPF programs that implement per-profile
// syscall allow/deny policies for the sandbox helper.
package seccomp

import "runtime"

// Profile names accepted by the sandbox helper's --seccomp flag.
const (
	ProfileDefault = "default"
	ProfileNodeJS  = "nodejs"
	ProfilePython  = "python"
	ProfileMinimal = "minimal"
)

// BPF instruction class/operation constants (classic BPF / cBPF).
const (
	bpfLD  = 0x00
	bpfJMP = 0x05
	bpfRET = 0x06
	bpfW   = 0x00
	bpfABS = 0x20
	bpfJEQ = 0x10
	bpfK   = 0x00

	RetAllow = 0x7fff0000
	retErrno = 0x00050000
	errnoEPERM = 1
)

// Instruction mirrors the kernel's struct sock_filter layout.
type Instruction struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

func stmt(code uint16, k uint32) Instruction {
	return Instruction{Code: code, K: k}
}

func jump(code uint16, k uint32, jt, jf uint8) Instruction {
	return Instruction{Code: code, Jt: jt, Jf: jf, K: k}
}

// denylistSyscalls enumerates the kernel-control syscalls blocked by the
// default/nodejs/python profiles, per architecture.
func denylistSyscalls() []uint32 {
	if runtime.GOARCH == "arm64" {
		return []uint32{
			117, // ptrace
			270, // process_vm_readv
			271, // process_vm_writev
			40,  // mount
			39,  // umount2
			41,  // pivot_root
			142, // reboot
			224, // swapon
			225, // swapoff
			105, // init_module
			106, // delete_module
			273, // finit_module
			104, // kexec_load
			294, // kexec_file_load
			89,  // acct
			170, // settimeofday
			112, // clock_settime
			266, // clock_adjtime
			171, // adjtimex
		}
	}
	return []uint32{
		101, // ptrace
		310, // process_vm_readv
		311, // process_vm_writev
		165, // mount
		166, // umount2
		155, // pivot_root
		169, // reboot
		167, // swapon
		168, // swapoff
		175, // init_module
		176, // delete_module
		313, // finit_module
		246, // kexec_load
		320, // kexec_file_load
		163, // acct
		164, // settimeofday
		227, // clock_settime
		305, // clock_adjtime
		159, // adjtimex
	}
}

// allowlistSyscalls enumerates the syscalls permitted by the minimal profile.
func allowlistSyscalls() []uint32 {
	if runtime.GOARCH == "arm64" {
		return []uint32{
			63,  // read
			64,  // write
			56,  // openat
			57,  // close
			80,  // fstat
			222, // mmap
			226, // mprotect
			215, // munmap
			214, // brk
			93,  // exit
			94,  // exit_group
			139, // rt_sigreturn
			98,  // futex
		}
	}
	return []uint32{
		0,   // read
		1,   // write
		257, // openat
		3,   // close
		5,   // fstat
		9,   // mmap
		10,  // mprotect
		11,  // munmap
		12,  // brk
		60,  // exit
		231, // exit_group
		15,  // rt_sigreturn
		202, // futex
	}
}

// Build constructs the BPF program for the given profile. Unrecognized
// profiles return ErrUnknownProfile.
func Build(profile string) ([]Instruction, error) {
	switch profile {
	case ProfileDefault, ProfileNodeJS, ProfilePython, "":
		return buildDenylist(denylistSyscalls()), nil
	case ProfileMinimal:
		return buildAllowlist(allowlistSyscalls()), nil
	default:
		return nil, ErrUnknownProfile
	}
}

// buildDenylist emits: load syscall nr, N JEQ checks (match -> ERRNO
// terminal, no-match -> next check or, for the last check, the ALLOW
// terminal), RET ERRNO (penultimate), RET ALLOW (final). Offsets are
// computed against the program's actual final length so every jump lands
// on a real instruction, unlike a filter compiled with fixed jt=0/jf=1
// pairs that silently skips the next check regardless of the match result.
func buildDenylist(denied []uint32) []Instruction {
	n := len(denied)
	prog := make([]Instruction, 0, n+3)
	prog = append(prog, stmt(bpfLD|bpfW|bpfABS, 0))

	errnoIdx := 1 + n
	allowIdx := errnoIdx + 1

	for i, nr := range denied {
		pc := 1 + i
		jt := uint8(errnoIdx - (pc + 1))
		jf := uint8(0)
		if i == n-1 {
			jf = uint8(allowIdx - (pc + 1))
		}
		prog = append(prog, jump(bpfJMP|bpfJEQ|bpfK, nr, jt, jf))
	}

	prog = append(prog, stmt(bpfRET|bpfK, retErrno|errnoEPERM))
	prog = append(prog, stmt(bpfRET|bpfK, RetAllow))
	return prog
}

// buildAllowlist emits: load syscall nr, N JEQ checks (match -> ALLOW
// terminal directly, no-match -> next check), RET ERRNO (penultimate),
// RET ALLOW (final, exactly one instruction past ERRNO).
func buildAllowlist(allowed []uint32) []Instruction {
	n := len(allowed)
	prog := make([]Instruction, 0, n+3)
	prog = append(prog, stmt(bpfLD|bpfW|bpfABS, 0))

	errnoIdx := 1 + n
	allowIdx := errnoIdx + 1

	for i, nr := range allowed {
		pc := 1 + i
		jt := uint8(allowIdx - (pc + 1))
		prog = append(prog, jump(bpfJMP|bpfJEQ|bpfK, nr, jt, 0))
	}

	prog = append(prog, stmt(bpfRET|bpfK, retErrno|errnoEPERM))
	prog = append(prog, stmt(bpfRET|bpfK, RetAllow))
	return prog
}
