package model

import "errors"

// ErrNotFound is returned by stores when a row does not exist. Repositories
// translate driver-level not-found errors into this sentinel so callers
// never depend on pgx directly.
var ErrNotFound = errors.New("not found")
