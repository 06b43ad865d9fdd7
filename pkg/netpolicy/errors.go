package netpolicy

import "errors"

var (
	ErrOpenConn    = errors.New("open nftables connection failed")
	ErrApplyPolicy = errors.New("apply nftables policy failed")
	ErrTeardown    = errors.New("teardown nftables policy failed")
)
