//go:build linux

package shm

import (
	"fmt"
	"unsafe"

	"github.com/opd-ai/patchfield/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Segment is a shared mapping of a memory file.
type Segment struct {
	fd    int
	owned bool
	data  []byte
}

// Create allocates a new anonymous memory file of limits.SegmentSize bytes and maps it.
// The returned segment owns its descriptor.
func Create(name string) (*Segment, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, limits.SegmentSize); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, limits.SegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Create",
		"name":     name,
		"fd":       fd,
		"size":     limits.SegmentSize,
	}).Debug("Shared segment created")

	return &Segment{fd: fd, owned: true, data: data}, nil
}

// Map maps the segment behind a received descriptor. The descriptor stays owned by
// the caller; the mapping outlives it until Close.
func Map(fd int) (*Segment, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("fstat: %w", err)
	}
	if st.Size != limits.SegmentSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSegmentSize, st.Size, limits.SegmentSize)
	}
	data, err := unix.Mmap(fd, 0, limits.SegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Segment{fd: fd, data: data}, nil
}

// FD returns the descriptor the segment was created or mapped from.
func (s *Segment) FD() int {
	return s.fd
}

// Lock pins the mapping in RAM. Failure is logged and otherwise ignored since
// unprivileged processes commonly lack the memlock budget.
func (s *Segment) Lock() {
	if err := unix.Mlock(s.data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Segment.Lock",
			"error":    err.Error(),
		}).Warn("Unable to lock shared segment in memory")
	}
}

// Close unmaps the segment and, for segments created by Create, closes the descriptor.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if s.owned {
		if cerr := unix.Close(s.fd); err == nil {
			err = cerr
		}
	}
	return err
}

// word returns a pointer to the int32 at the given word index.
func (s *Segment) word(index int) *int32 {
	return (*int32)(unsafe.Pointer(&s.data[index*4]))
}

// dword returns a pointer to the 8-byte aligned int64 starting at the given word index.
func (s *Segment) dword(index int) *int64 {
	return (*int64)(unsafe.Pointer(&s.data[index*4]))
}

// Floats returns n float32 values starting at the given float index.
func (s *Segment) Floats(offset, n int) []float32 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&s.data[offset*4])), n)
}
