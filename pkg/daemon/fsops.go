//go:build linux

package daemon

import (
	"encoding/base64"
	"io"
	"os"
	"os/exec"

	"github.com/dnakov/vmcage/internal/errx"
)

const maxReadFileBytes = 100 << 20

// Mount ensures mountPoint exists, then mounts tag via virtiofs.
func Mount(tag, mountPoint string, readOnly bool) error {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return errx.Wrap(ErrMountFailed, err)
	}
	args := []string{"-t", "virtiofs"}
	if readOnly {
		args = append(args, "-o", "ro")
	}
	args = append(args, tag, mountPoint)
	if out, err := exec.Command("mount", args...).CombinedOutput(); err != nil {
		return errx.With(ErrMountFailed, ": %s: %w", string(out), err)
	}
	return nil
}

// Unmount unmounts a previously mounted path.
func Unmount(mountPoint string) error {
	if out, err := exec.Command("umount", mountPoint).CombinedOutput(); err != nil {
		return errx.With(ErrUnmountFailed, ": %s: %w", string(out), err)
	}
	return nil
}

// InstallBinary base64-decodes data and writes it under /usr/local/bin.
func InstallBinary(name string, data string, executable bool) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return errx.Wrap(ErrInstallFailed, err)
	}
	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}
	path := "/usr/local/bin/" + name
	if err := os.WriteFile(path, raw, mode); err != nil {
		return errx.Wrap(ErrInstallFailed, err)
	}
	return os.Chmod(path, mode)
}

// ReadFile reads an absolute path, rejecting anything over 100 MiB.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxReadFileBytes {
		return nil, ErrFileTooLarge
	}
	return io.ReadAll(f)
}
