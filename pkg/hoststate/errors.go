package hoststate

import "errors"

var (
	ErrOpen      = errors.New("open vm registry failed")
	ErrConfigure = errors.New("configure vm registry database")
	ErrMigrate   = errors.New("migrate vm registry database")
	ErrInsert    = errors.New("insert vm record failed")
	ErrUpdate    = errors.New("update vm record failed")
	ErrQuery     = errors.New("query vm records failed")
	ErrNotFound  = errors.New("vm record not found")
	ErrDelete    = errors.New("delete vm record failed")
)
