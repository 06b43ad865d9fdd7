package seccomp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild_UnknownProfile(t *testing.T) {
	_, err := Build("made-up")
	require.ErrorIs(t, err, ErrUnknownProfile)
}

func TestBuild_DefaultProfileShape(t *testing.T) {
	for _, profile := range []string{ProfileDefault, ProfileNodeJS, ProfilePython} {
		prog, err := Build(profile)
		require.NoError(t, err)
		requireTerminalsErrnoThenAllow(t, prog)
		requireJumpsInBounds(t, prog)
	}
}

func TestBuild_MinimalProfileShape(t *testing.T) {
	prog, err := Build(ProfileMinimal)
	require.NoError(t, err)
	requireTerminalsErrnoThenAllow(t, prog)
	requireJumpsInBounds(t, prog)
}

// requireTerminalsErrnoThenAllow asserts the last two instructions are
// RET ERRNO|EPERM followed immediately by RET ALLOW.
func requireTerminalsErrnoThenAllow(t *testing.T, prog []Instruction) {
	t.Helper()
	require.GreaterOrEqual(t, len(prog), 3)
	penultimate := prog[len(prog)-2]
	final := prog[len(prog)-1]
	require.Equal(t, uint16(bpfRET|bpfK), penultimate.Code)
	require.Equal(t, uint32(retErrno|errnoEPERM), penultimate.K)
	require.Equal(t, uint16(bpfRET|bpfK), final.Code)
	require.Equal(t, uint32(RetAllow), final.K)
}

// requireJumpsInBounds asserts every JEQ's jt/jf lands on a real
// instruction within the program.
func requireJumpsInBounds(t *testing.T, prog []Instruction) {
	t.Helper()
	for pc, instr := range prog {
		if instr.Code != bpfJMP|bpfJEQ|bpfK {
			continue
		}
		jtTarget := pc + 1 + int(instr.Jt)
		jfTarget := pc + 1 + int(instr.Jf)
		require.Lessf(t, jtTarget, len(prog), "jt target out of range at pc=%d", pc)
		require.Lessf(t, jfTarget, len(prog), "jf target out of range at pc=%d", pc)
	}
}

func TestBuild_DenylistMatchReachesErrno(t *testing.T) {
	prog, err := Build(ProfileDefault)
	require.NoError(t, err)
	denied := denylistSyscalls()
	errnoPC := len(prog) - 2

	for i := range denied {
		pc := 1 + i
		jt := prog[pc].Jt
		target := pc + 1 + int(jt)
		require.Equalf(t, errnoPC, target, "syscall %d match should reach ERRNO terminal", denied[i])
	}
}

func TestBuild_AllowlistMatchReachesAllow(t *testing.T) {
	prog, err := Build(ProfileMinimal)
	require.NoError(t, err)
	allowed := allowlistSyscalls()
	allowPC := len(prog) - 1

	for i := range allowed {
		pc := 1 + i
		jt := prog[pc].Jt
		target := pc + 1 + int(jt)
		require.Equalf(t, allowPC, target, "syscall %d match should reach ALLOW terminal", allowed[i])
	}
}

func TestBuild_DenylistFallthroughReachesAllow(t *testing.T) {
	prog, err := Build(ProfileDefault)
	require.NoError(t, err)
	denied := denylistSyscalls()
	lastPC := len(denied)
	allowPC := len(prog) - 1
	jf := prog[lastPC].Jf
	target := lastPC + 1 + int(jf)
	require.Equal(t, allowPC, target)
}
