package blobcache

import "errors"

var (
	// ErrCorruptEntry is returned when an entry file's contents do not
	// match its header.
	ErrCorruptEntry = errors.New("corrupt entry file")

	// ErrHeaderMismatch is returned when an entry file's recorded value
	// size disagrees with the tracked entry.
	ErrHeaderMismatch = errors.New("entry header mismatch")
)
