package storage

import "errors"

// ErrNotFound is returned when a buoy or observation does not exist
var ErrNotFound = errors.New("not found")
