package settings

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/itohio/ospid/pkg/nvm"
)

// TrailerSize is the width of the CRC stored at the end of every block.
const TrailerSize = 2

// ErrCorrupt reports a block whose recomputed CRC does not match its trailer.
var ErrCorrupt = errors.New("settings: block CRC mismatch")

// Block is a fixed region of storage holding one subsystem's settings.
// Its last TrailerSize bytes hold the CRC of everything before them.
// Blocks of different subsystems must not overlap.
type Block struct {
	Name string
	Base int
	Size int
	Seed uint16
}

// End returns the first address after the block.
func (b Block) End() int { return b.Base + b.Size }

// trailer returns the address of the CRC trailer.
func (b Block) trailer() int { return b.End() - TrailerSize }

// Overlaps reports whether two blocks share any byte.
func (b Block) Overlaps(o Block) bool {
	return b.Base < o.End() && o.Base < b.End()
}

// Save runs fn against a cursor at the block base, pads the remainder of
// the payload area and writes the CRC trailer. Only bytes that differ from
// what is stored are physically written.
func (b Block) Save(dev nvm.Device, fn func(*Cursor), opts ...Option) error {
	c := NewCursor(dev, b.Seed, b.Base, opts...)
	fn(c)
	if c.Err() == nil && c.Addr() > b.trailer() {
		return fmt.Errorf("save %s: payload ends at %d past trailer at %d", b.Name, c.Addr(), b.trailer())
	}
	c.FillUpTo(b.trailer())
	if err := c.Err(); err != nil {
		return fmt.Errorf("save %s: %w", b.Name, err)
	}

	var trailer [TrailerSize]byte
	binary.LittleEndian.PutUint16(trailer[:], c.CRC())
	// The trailer is written through a throwaway cursor so it gets the same
	// write-on-difference and yield treatment without being folded into the CRC.
	t := NewCursor(dev, 0, b.trailer(), opts...)
	t.SaveBytes(trailer[:])
	if err := t.Err(); err != nil {
		return fmt.Errorf("save %s trailer: %w", b.Name, err)
	}
	return nil
}

// Sum returns the CRC that Save would store for fn, without touching storage.
func (b Block) Sum(fn func(*Cursor)) (uint16, error) {
	c := NewCursor(nil, b.Seed, b.Base)
	fn(c)
	c.FillUpTo(b.trailer())
	return c.CRC(), c.Err()
}

// Verify recomputes the CRC over the stored payload and compares it with
// the trailer.
func (b Block) Verify(dev nvm.Device) error {
	sum, err := Checksum(dev, b.Seed, b.Base, b.trailer())
	if err != nil {
		return fmt.Errorf("verify %s: %w", b.Name, err)
	}

	var trailer [TrailerSize]byte
	c := NewCursor(dev, 0, b.trailer())
	c.RestoreBytes(trailer[:])
	if err := c.Err(); err != nil {
		return fmt.Errorf("verify %s: %w", b.Name, err)
	}

	if stored := binary.LittleEndian.Uint16(trailer[:]); stored != sum {
		return fmt.Errorf("verify %s: stored %#04x, computed %#04x: %w", b.Name, stored, sum, ErrCorrupt)
	}
	return nil
}

// Restore verifies the block and, only if it is intact, runs fn against a
// cursor at the block base. A corrupt block returns ErrCorrupt without
// calling fn, so callers never see partially corrupt values.
func (b Block) Restore(dev nvm.Device, fn func(*Cursor)) error {
	if err := b.Verify(dev); err != nil {
		return err
	}
	c := NewCursor(dev, b.Seed, b.Base)
	fn(c)
	if err := c.Err(); err != nil {
		return fmt.Errorf("restore %s: %w", b.Name, err)
	}
	return nil
}

// CheckLayout returns an error if any two blocks overlap or a block does
// not fit the device.
func CheckLayout(dev nvm.Device, blocks ...Block) error {
	for i, a := range blocks {
		if a.Base < 0 || a.End() > dev.Size() {
			return fmt.Errorf("block %s [%d,%d) does not fit %d bytes", a.Name, a.Base, a.End(), dev.Size())
		}
		for _, o := range blocks[i+1:] {
			if a.Overlaps(o) {
				return fmt.Errorf("block %s overlaps %s", a.Name, o.Name)
			}
		}
	}
	return nil
}
