package wia

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerCorrupt is returned when a record hash, size or
	// structure inside the container does not check out.
	ErrContainerCorrupt = errors.New("wia: container corrupt")
	// ErrBackendFailure is returned when a compression backend fails
	// while writing.
	ErrBackendFailure = errors.New("wia: compression backend failure")
	// ErrUnsupportedFormat is returned for container versions outside the
	// supported window and for unknown or unavailable compression
	// methods.
	ErrUnsupportedFormat = errors.New("wia: unsupported format")
	// ErrInternal indicates a logic error; it is never caused by the
	// contents of a container.
	ErrInternal = errors.New("wia: internal error")

	// ErrBadMagic is returned if the first four bytes are not "WIA\x01".
	ErrBadMagic = fmt.Errorf("%w: bad magic", ErrUnsupportedFormat)
	// ErrInterrupted is returned by a Writer that stopped at a chunk
	// boundary after an interrupt request.
	ErrInterrupted = errors.New("wia: interrupted")
	// ErrAborted is returned by a Writer that stopped immediately,
	// discarding the chunk being built.
	ErrAborted = errors.New("wia: aborted")
	// ErrGroupWritten is returned when writing into a chunk that has
	// already been compressed and stored.
	ErrGroupWritten = errors.New("wia: group already written")
)

// GroupError records the group and backing file offset involved in a
// failure.
type GroupError struct {
	Group  uint32
	Offset int64
	Err    error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("wia: group %d at offset %#x: %v", e.Group, e.Offset, e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

func corruptf(format string, a ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrContainerCorrupt}, a...)...)
}

func internalf(format string, a ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInternal}, a...)...)
}
