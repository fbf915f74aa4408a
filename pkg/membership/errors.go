package membership

import "errors"

var (
	// ErrCacheMiss is returned when no record exists for a username
	ErrCacheMiss = errors.New("membership cache miss")

	// ErrInvalidRecord is returned when a record cannot be stored
	ErrInvalidRecord = errors.New("invalid membership record")
)
