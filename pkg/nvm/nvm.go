// Package nvm models the byte-addressable non-volatile storage the
// controller persists its settings to.
package nvm

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Erased is the value of a storage byte that has never been written.
const Erased = 0xFF

// ErrOutOfRange is returned for addresses outside the device.
var ErrOutOfRange = errors.New("nvm: address out of range")

// Device is a byte-addressable non-volatile store. Writing the value a byte
// already holds is never required; callers compare before writing.
type Device interface {
	Read(addr int) (byte, error)
	Write(addr int, b byte) error
	Size() int
}

// Programmer is implemented by devices that can program a byte without an
// erase cycle. Programming can only clear bits: the stored result is
// old & b. It is much faster than Write and does not consume an erase cycle.
type Programmer interface {
	Program(addr int, b byte) error
}

// Memory is a RAM-backed Device. It starts erased and keeps counters of the
// physical operations performed on it.
type Memory struct {
	data     []byte
	writes   int
	programs int
}

var (
	_ Device     = (*Memory)(nil)
	_ Programmer = (*Memory)(nil)
)

// NewMemory returns an erased memory device of size bytes.
func NewMemory(size int) *Memory {
	data := make([]byte, size)
	for i := range data {
		data[i] = Erased
	}
	return &Memory{data: data}
}

// Read returns the byte at addr.
func (m *Memory) Read(addr int) (byte, error) {
	if addr < 0 || addr >= len(m.data) {
		return 0, fmt.Errorf("read %d: %w", addr, ErrOutOfRange)
	}
	return m.data[addr], nil
}

// Write stores b at addr.
func (m *Memory) Write(addr int, b byte) error {
	if addr < 0 || addr >= len(m.data) {
		return fmt.Errorf("write %d: %w", addr, ErrOutOfRange)
	}
	m.data[addr] = b
	m.writes++
	return nil
}

// Program clears the bits of addr that are clear in b.
func (m *Memory) Program(addr int, b byte) error {
	if addr < 0 || addr >= len(m.data) {
		return fmt.Errorf("program %d: %w", addr, ErrOutOfRange)
	}
	m.data[addr] &= b
	m.programs++
	return nil
}

// Size returns the capacity in bytes.
func (m *Memory) Size() int { return len(m.data) }

// Writes returns the number of physical writes performed so far.
func (m *Memory) Writes() int { return m.writes }

// Programs returns the number of program-only operations performed so far.
func (m *Memory) Programs() int { return m.programs }

// Bytes exposes the underlying image.
func (m *Memory) Bytes() []byte { return m.data }

// ReadWriterAt is the random access interface shared by *os.File and the
// TinyGo flash block device.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Image adapts a ReadWriterAt of a fixed size to a Device.
type Image struct {
	rw   ReadWriterAt
	size int
	buf  [1]byte
}

var _ Device = (*Image)(nil)

// NewImage wraps rw, exposing its first size bytes.
func NewImage(rw ReadWriterAt, size int) *Image {
	return &Image{rw: rw, size: size}
}

// Read returns the byte at addr.
func (i *Image) Read(addr int) (byte, error) {
	if addr < 0 || addr >= i.size {
		return 0, fmt.Errorf("read %d: %w", addr, ErrOutOfRange)
	}
	if _, err := i.rw.ReadAt(i.buf[:], int64(addr)); err != nil {
		return 0, fmt.Errorf("read %d: %w", addr, err)
	}
	return i.buf[0], nil
}

// Write stores b at addr.
func (i *Image) Write(addr int, b byte) error {
	if addr < 0 || addr >= i.size {
		return fmt.Errorf("write %d: %w", addr, ErrOutOfRange)
	}
	i.buf[0] = b
	if _, err := i.rw.WriteAt(i.buf[:], int64(addr)); err != nil {
		return fmt.Errorf("write %d: %w", addr, err)
	}
	return nil
}

// Size returns the capacity in bytes.
func (i *Image) Size() int { return i.size }

// OpenFile opens (or creates) a storage image file of size bytes. A new or
// short file is padded with erased bytes.
func OpenFile(path string, size int) (*Image, *os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage image: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat storage image: %w", err)
	}

	if st.Size() < int64(size) {
		pad := make([]byte, int64(size)-st.Size())
		for i := range pad {
			pad[i] = Erased
		}
		if _, err := f.WriteAt(pad, st.Size()); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to initialize storage image: %w", err)
		}
	}

	return NewImage(f, size), f, nil
}
