package storage

import (
	"io"
	"time"
)

// Lease is a staged scratch file. Release removes it and is safe to call more
// than once.
type Lease interface {
	Path() string
	Release() error
}

type IService interface {
	Acquire(originalName string, content io.Reader) (Lease, error)
	Sweep(olderThan time.Duration) (int, error)
	GetFolder() string
}
