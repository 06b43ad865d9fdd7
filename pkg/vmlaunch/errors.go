package vmlaunch

import "errors"

var (
	ErrAllocatePort  = errors.New("allocate guest port failed")
	ErrStartQEMU     = errors.New("start qemu failed")
	ErrBootTimeout   = errors.New("guest did not become connectable within boot budget")
	ErrKernelMissing = errors.New("kernel image not found")
	ErrRootfsMissing = errors.New("rootfs image not found")
)
