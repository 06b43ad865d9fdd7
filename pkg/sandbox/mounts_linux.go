//go:build linux

package sandbox

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/dnakov/vmcage/internal/errx"
)

// buildRoot assembles a tmpfs-backed jail root under os.TempDir, binding
// the RO system paths and caller binds into it, then laying tmpfs
// overlays on top. Returns the root path for pivotInto.
func buildRoot(cfg *Config) (string, error) {
	root, err := os.MkdirTemp("", "vmcage-jail-")
	if err != nil {
		return "", errx.Wrap(ErrMountFailed, err)
	}

	if err := unix.Mount("tmpfs", root, "tmpfs", 0, "mode=0755"); err != nil {
		return "", errx.Wrap(ErrMountFailed, err)
	}

	for _, b := range cfg.ROBinds {
		if err := bindInto(root, b.Src, b.Dst, true); err != nil {
			return "", err
		}
	}
	for _, b := range cfg.RWBinds {
		if err := bindInto(root, b.Src, b.Dst, false); err != nil {
			return "", err
		}
	}
	for _, p := range cfg.Tmpfs {
		target := filepath.Join(root, p)
		if err := os.MkdirAll(target, 0755); err != nil {
			return "", errx.Wrap(ErrMountFailed, err)
		}
		if err := unix.Mount("tmpfs", target, "tmpfs", 0, "mode=1777"); err != nil {
			return "", errx.Wrap(ErrMountFailed, err)
		}
	}

	oldRootHolder := filepath.Join(root, ".oldroot")
	if err := os.MkdirAll(oldRootHolder, 0700); err != nil {
		return "", errx.Wrap(ErrMountFailed, err)
	}

	return root, nil
}

// bindInto bind-mounts src at root+dst, remounting read-only in place
// when ro is set (MS_BIND ignores MS_RDONLY on the initial mount).
func bindInto(root, src, dst string, ro bool) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errx.Wrap(ErrMountFailed, err)
	}

	target := filepath.Join(root, dst)
	if info.IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return errx.Wrap(ErrMountFailed, err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return errx.Wrap(ErrMountFailed, err)
		}
		f, err := os.OpenFile(target, os.O_CREATE, 0644)
		if err != nil {
			return errx.Wrap(ErrMountFailed, err)
		}
		f.Close()
	}

	if err := unix.Mount(src, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return errx.Wrap(ErrMountFailed, err)
	}
	if ro {
		if err := unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_REC, ""); err != nil {
			return errx.Wrap(ErrMountFailed, err)
		}
	}
	return nil
}

// pivotInto makes root the process's new filesystem root via pivot_root,
// falling back to chroot when pivot_root is unavailable (e.g. root is
// itself the initramfs rootfs in some container-in-container setups).
func pivotInto(root string) error {
	oldRoot := filepath.Join(root, ".oldroot")

	if err := unix.PivotRoot(root, oldRoot); err != nil {
		if chrootErr := unix.Chroot(root); chrootErr != nil {
			return errx.Wrap(ErrPivotRootFailed, err)
		}
		if err := os.Chdir("/"); err != nil {
			return errx.Wrap(ErrPivotRootFailed, err)
		}
		return nil
	}

	if err := os.Chdir("/"); err != nil {
		return errx.Wrap(ErrPivotRootFailed, err)
	}

	if err := unix.Unmount("/.oldroot", unix.MNT_DETACH); err != nil {
		return errx.Wrap(ErrPivotRootFailed, err)
	}
	if err := os.RemoveAll("/.oldroot"); err != nil {
		return errx.Wrap(ErrPivotRootFailed, err)
	}
	return nil
}

// mountProcAndDev mounts a fresh /proc (now safe: we're in our own PID
// namespace) and a minimal tmpfs /dev with the handful of device nodes
// most programs assume exist.
func mountProcAndDev() error {
	if err := os.MkdirAll("/proc", 0555); err != nil {
		return errx.Wrap(ErrMountFailed, err)
	}
	if err := unix.Mount("proc", "/proc", "proc", 0, ""); err != nil {
		return errx.Wrap(ErrMountFailed, err)
	}

	if err := os.MkdirAll("/dev", 0755); err != nil {
		return errx.Wrap(ErrMountFailed, err)
	}
	if err := unix.Mount("tmpfs", "/dev", "tmpfs", 0, "mode=0755"); err != nil {
		return errx.Wrap(ErrMountFailed, err)
	}

	devNodes := []struct {
		path  string
		major uint32
		minor uint32
		mode  uint32
	}{
		{"/dev/null", 1, 3, 0666},
		{"/dev/zero", 1, 5, 0666},
		{"/dev/full", 1, 7, 0666},
		{"/dev/random", 1, 8, 0666},
		{"/dev/urandom", 1, 9, 0666},
		{"/dev/tty", 5, 0, 0666},
	}
	for _, n := range devNodes {
		dev := int(unix.Mkdev(n.major, n.minor))
		if err := unix.Mknod(n.path, unix.S_IFCHR|n.mode, dev); err != nil {
			continue
		}
	}

	if err := os.MkdirAll("/dev/pts", 0755); err != nil {
		return errx.Wrap(ErrMountFailed, err)
	}
	_ = unix.Mount("devpts", "/dev/pts", "devpts", 0, "newinstance,ptmxmode=0666,mode=0620")

	if err := os.MkdirAll("/dev/shm", 01777); err != nil {
		return errx.Wrap(ErrMountFailed, err)
	}
	_ = unix.Mount("tmpfs", "/dev/shm", "tmpfs", 0, "mode=1777")

	return nil
}
