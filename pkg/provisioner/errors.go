package provisioner

import "errors"

var (
	ErrEnsureGroupFailed = errors.New("ensure group failed")
	ErrEnsureUserFailed  = errors.New("ensure user failed")
	ErrDeleteUserFailed  = errors.New("delete user failed")
	ErrChownFailed       = errors.New("recursive chown failed")
	ErrCreateHomeFailed  = errors.New("create home directory failed")
)
