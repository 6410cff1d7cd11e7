package models

import (
	"errors"
	"time"
)

// ErrObjectExists is returned by a create-only write when the name is taken.
var ErrObjectExists = errors.New("object already exists")

// Blob is an object read from storage in a single call.
type Blob struct {
	Data     []byte
	Metadata map[string]string
	Created  time.Time
}

// PutOptions controls how an object is written.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// Overwrite allows replacing an existing object. When false the write
	// fails with ErrObjectExists.
	Overwrite bool
}
