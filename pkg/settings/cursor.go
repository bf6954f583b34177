// Package settings serializes typed values into fixed, offset-addressed
// regions of non-volatile storage.
//
// A Cursor walks forward through storage, folding every byte it saves into a
// running CRC-16 and only physically writing bytes whose stored value
// differs. A Block is a fixed region terminated by a CRC trailer; it is the
// unit each subsystem saves and restores.
package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/nvm"
	"github.com/sigurn/crc16"
)

// Fill is the sentinel byte used to pad unused space inside a block.
const Fill = 0xFF

// crcTable implements the reflected CCITT polynomial (0x1021 / 0x8408),
// the same recurrence as the AVR _crc_ccitt_update. The table works on a
// bit-reversed register, so seeds and results pass through bits.Reverse16.
var crcTable = crc16.MakeTable(crc16.CRC16_KERMIT)

func crcUpdate(reg uint16, b byte) uint16 {
	return crc16.Update(reg, []byte{b}, crcTable)
}

// ErrNoDevice is returned when a dry-run cursor is asked to read storage.
var ErrNoDevice = errors.New("settings: cursor has no device")

// Option configures a Cursor.
type Option func(*Cursor)

// WithYield registers fn to be called after every byte that required a
// physical write. Physical writes are slow compared to the control loop
// tick, so the owner of the loop uses this to service the loop between
// writes.
func WithYield(fn func()) Option {
	return func(c *Cursor) {
		c.yield = fn
	}
}

// Cursor is a forward-only position in storage with a running CRC.
// Errors are sticky: after the first failure all further operations are
// no-ops and Err reports it.
type Cursor struct {
	dev     nvm.Device
	reg     uint16 // bit-reversed CRC register
	addr    int
	yield   func()
	writes  int
	scratch [8]byte
	err     error
}

// NewCursor returns a cursor positioned at base with the CRC seeded with seed.
// A nil device makes a dry-run cursor that only accumulates the CRC of the
// bytes it is asked to save.
func NewCursor(dev nvm.Device, seed uint16, base int, opts ...Option) *Cursor {
	c := &Cursor{
		dev:  dev,
		reg:  bits.Reverse16(seed),
		addr: base,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save serializes v (a fixed-size value as understood by encoding/binary,
// little endian) at the cursor and advances past it.
func (c *Cursor) Save(v any) {
	if c.err != nil {
		return
	}
	buf, err := binary.Append(c.scratch[:0], binary.LittleEndian, v)
	if err != nil {
		c.err = fmt.Errorf("save at %d: %w", c.addr, err)
		return
	}
	c.saveBytes(buf)
}

// SaveBytes saves a raw byte run.
func (c *Cursor) SaveBytes(p []byte) {
	if c.err != nil {
		return
	}
	c.saveBytes(p)
}

func (c *Cursor) saveBytes(p []byte) {
	for _, b := range p {
		if c.dev != nil {
			old, err := c.dev.Read(c.addr)
			if err != nil {
				c.err = err
				return
			}
			if old != b {
				if err := c.dev.Write(c.addr, b); err != nil {
					c.err = err
					return
				}
				c.writes++
				if c.yield != nil {
					c.yield()
				}
			}
		}
		c.reg = crcUpdate(c.reg, b)
		c.addr++
	}
}

// Restore reads a fixed-size value into v (a pointer) and advances past it.
// The CRC is not touched: integrity is checked once per block.
func (c *Cursor) Restore(v any) {
	if c.err != nil {
		return
	}
	n := binary.Size(v)
	if n < 0 || n > len(c.scratch) {
		c.err = fmt.Errorf("restore at %d: unsupported type %T", c.addr, v)
		return
	}
	buf := c.scratch[:n]
	c.RestoreBytes(buf)
	if c.err != nil {
		return
	}
	if _, err := binary.Decode(buf, binary.LittleEndian, v); err != nil {
		c.err = fmt.Errorf("restore at %d: %w", c.addr-n, err)
	}
}

// RestoreBytes fills p from storage and advances past it.
func (c *Cursor) RestoreBytes(p []byte) {
	if c.err != nil {
		return
	}
	if c.dev == nil {
		c.err = ErrNoDevice
		return
	}
	for i := range p {
		b, err := c.dev.Read(c.addr)
		if err != nil {
			c.err = err
			return
		}
		p[i] = b
		c.addr++
	}
}

// FillUpTo pads with Fill bytes up to (not including) addr. The padding is
// folded into the CRC like any saved byte.
func (c *Cursor) FillUpTo(addr int) {
	for c.err == nil && c.addr < addr {
		c.saveBytes([]byte{Fill})
	}
}

// SkipTo moves the cursor to addr without touching storage or the CRC.
func (c *Cursor) SkipTo(addr int) {
	c.addr = addr
}

// CRC returns the running CRC.
func (c *Cursor) CRC() uint16 { return bits.Reverse16(c.reg) }

// Addr returns the current address.
func (c *Cursor) Addr() int { return c.addr }

// Writes returns how many physical byte writes this cursor performed.
func (c *Cursor) Writes() int { return c.writes }

// Err returns the first error encountered.
func (c *Cursor) Err() error { return c.err }

// SaveDecimal saves the scaled integer of d.
func SaveDecimal[S decimal.Scale](c *Cursor, d decimal.Decimal[S]) {
	c.Save(d.Raw())
}

// RestoreDecimal restores a decimal saved with SaveDecimal.
func RestoreDecimal[S decimal.Scale](c *Cursor, d *decimal.Decimal[S]) {
	var raw int32
	c.Restore(&raw)
	if c.Err() == nil {
		*d = decimal.New[S](raw)
	}
}

// Checksum recomputes the CRC of the stored bytes in [from, to) without
// writing anything.
func Checksum(dev nvm.Device, seed uint16, from, to int) (uint16, error) {
	reg := bits.Reverse16(seed)
	for addr := from; addr < to; addr++ {
		b, err := dev.Read(addr)
		if err != nil {
			return 0, err
		}
		reg = crcUpdate(reg, b)
	}
	return bits.Reverse16(reg), nil
}
