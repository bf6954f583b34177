package profile

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/nvm"
	"github.com/itohio/ospid/pkg/settings"
)

// BlockSize is the storage footprint of one profile including its trailer:
// name, step count, step types, durations (ms) and endpoints.
const BlockSize = (NameLength + 1) + 1 + MaxSteps + 4*MaxSteps + 4*MaxSteps + settings.TrailerSize

// seed of slot 0; each slot adds its index.
const seed = 0x0F0F

// Bank stores a fixed number of profiles in consecutive blocks.
type Bank struct {
	dev   nvm.Device
	base  int
	slots int
	opts  []settings.Option
}

// NewBank returns a bank of slots profiles starting at base.
func NewBank(dev nvm.Device, base, slots int, opts ...settings.Option) *Bank {
	return &Bank{dev: dev, base: base, slots: slots, opts: opts}
}

// Slots returns the number of profiles the bank holds.
func (b *Bank) Slots() int { return b.slots }

// Block returns the storage block of slot i.
func (b *Bank) Block(i int) settings.Block {
	return settings.Block{
		Name: fmt.Sprintf("profile%d", i),
		Base: b.base + i*BlockSize,
		Size: BlockSize,
		Seed: seed + uint16(i),
	}
}

// Blocks returns every slot block, for layout checks.
func (b *Bank) Blocks() []settings.Block {
	out := make([]settings.Block, b.slots)
	for i := range out {
		out[i] = b.Block(i)
	}
	return out
}

// Save persists p into slot i. If the stored CRC would be 0x0000 the
// swizzle bit of the first type byte is set, which changes the CRC without
// changing the profile.
func (b *Bank) Save(i int, p *Profile) error {
	if i < 0 || i >= b.slots {
		return fmt.Errorf("save profile slot %d: %w", i, nvm.ErrOutOfRange)
	}
	blk := b.Block(i)

	var swizzle StepType
	sum, err := blk.Sum(func(c *settings.Cursor) { p.save(c, 0) })
	if err != nil {
		return err
	}
	if sum == 0 {
		swizzle = FlagSwizzle
	}

	return blk.Save(b.dev, func(c *settings.Cursor) { p.save(c, swizzle) }, b.opts...)
}

// Load restores slot i. A corrupt or never written slot yields a cleared
// profile together with settings.ErrCorrupt.
func (b *Bank) Load(i int) (*Profile, error) {
	if i < 0 || i >= b.slots {
		return nil, fmt.Errorf("load profile slot %d: %w", i, nvm.ErrOutOfRange)
	}

	p := New(DefaultName)
	var tmp Profile
	err := b.Block(i).Restore(b.dev, tmp.restore)
	if err != nil {
		if errors.Is(err, settings.ErrCorrupt) {
			log.Printf("profile: slot %d corrupt, using empty profile", i)
		}
		return p, err
	}
	return &tmp, nil
}

func (p *Profile) save(c *settings.Cursor, swizzle StepType) {
	var name [NameLength + 1]byte
	copy(name[:NameLength], p.name)
	c.SaveBytes(name[:])
	c.Save(uint8(p.count))

	for i, s := range p.steps {
		t := s.Type
		if i == 0 {
			t |= swizzle
		}
		c.Save(uint8(t))
	}
	for _, s := range p.steps {
		c.Save(durationToMillis(s.Duration))
	}
	for _, s := range p.steps {
		settings.SaveDecimal(c, s.Endpoint)
	}
}

func (p *Profile) restore(c *settings.Cursor) {
	var name [NameLength + 1]byte
	c.RestoreBytes(name[:])
	n := 0
	for n < NameLength && name[n] != 0 {
		n++
	}
	p.name = string(name[:n])

	var count uint8
	c.Restore(&count)
	p.count = min(int(count), MaxSteps)

	for i := range p.steps {
		var t uint8
		c.Restore(&t)
		p.steps[i].Type = StepType(t) & ContentMask
	}
	for i := range p.steps {
		var ms uint32
		c.Restore(&ms)
		p.steps[i].Duration = millisToDuration(ms)
	}
	for i := range p.steps {
		var e decimal.Decimal[decimal.D1]
		settings.RestoreDecimal(c, &e)
		p.steps[i].Endpoint = e
	}
}

// Unused slots carry a negative duration which is stored as all ones.
func durationToMillis(d time.Duration) uint32 {
	if d < 0 {
		return ^uint32(0)
	}
	return uint32(d / time.Millisecond)
}

func millisToDuration(ms uint32) time.Duration {
	if ms == ^uint32(0) {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}
