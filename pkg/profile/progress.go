package profile

import (
	"math/bits"

	"github.com/itohio/ospid/pkg/nvm"
)

// ProgressSize is the storage footprint of a progress marker.
const ProgressSize = MaxSteps / 8

// Progress is a power-fail marker of the running profile step. Each entered
// step clears one bit of an erased 16-bit mask, which only needs the fast
// program-only write when the device supports it. Reset erases the mask
// with ordinary writes.
type Progress struct {
	dev  nvm.Device
	addr int
}

// NewProgress returns a marker stored at addr.
func NewProgress(dev nvm.Device, addr int) *Progress {
	return &Progress{dev: dev, addr: addr}
}

// Reset marks no step as entered.
func (p *Progress) Reset() error {
	for i := range ProgressSize {
		b, err := p.dev.Read(p.addr + i)
		if err != nil {
			return err
		}
		if b != nvm.Erased {
			if err := p.dev.Write(p.addr+i, nvm.Erased); err != nil {
				return err
			}
		}
	}
	return nil
}

// Mark records that step i was entered.
func (p *Progress) Mark(i int) error {
	addr := p.addr + i/8
	mask := ^byte(1 << (i % 8))

	if pr, ok := p.dev.(nvm.Programmer); ok {
		return pr.Program(addr, mask)
	}
	b, err := p.dev.Read(addr)
	if err != nil {
		return err
	}
	if b&mask == b {
		return nil
	}
	return p.dev.Write(addr, b&mask)
}

// Step returns the last entered step, and false when no step is marked.
func (p *Progress) Step() (int, bool) {
	entered := 0
	for i := range ProgressSize {
		b, err := p.dev.Read(p.addr + i)
		if err != nil {
			return 0, false
		}
		entered += 8 - bits.OnesCount8(b)
	}
	if entered == 0 {
		return 0, false
	}
	return entered - 1, true
}
