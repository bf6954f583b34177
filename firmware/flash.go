//go:build tinygo

package main

import (
	"fmt"

	"github.com/itohio/ospid/pkg/nvm"
)

// flashBlocks is the subset of machine.Flash used for settings.
type flashBlocks interface {
	nvm.ReadWriterAt
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// flashStore emulates byte-writable storage on flash. Writes land in a RAM
// shadow; sync erases the blocks and writes the shadow back.
type flashStore struct {
	dev    flashBlocks
	shadow *nvm.Memory
	dirty  bool
}

var _ nvm.Device = (*flashStore)(nil)

func newFlashStore(dev flashBlocks, size int) (*flashStore, error) {
	s := &flashStore{dev: dev, shadow: nvm.NewMemory(size)}
	if _, err := dev.ReadAt(s.shadow.Bytes(), 0); err != nil {
		return nil, fmt.Errorf("failed to read settings flash: %w", err)
	}
	return s, nil
}

func (s *flashStore) Read(addr int) (byte, error) { return s.shadow.Read(addr) }

func (s *flashStore) Write(addr int, b byte) error {
	if err := s.shadow.Write(addr, b); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

func (s *flashStore) Size() int { return s.shadow.Size() }

func (s *flashStore) sync() error {
	if !s.dirty {
		return nil
	}
	bs := s.dev.EraseBlockSize()
	blocks := (int64(s.shadow.Size()) + bs - 1) / bs
	if err := s.dev.EraseBlocks(0, blocks); err != nil {
		return fmt.Errorf("failed to erase settings flash: %w", err)
	}
	if _, err := s.dev.WriteAt(s.shadow.Bytes(), 0); err != nil {
		return fmt.Errorf("failed to write settings flash: %w", err)
	}
	s.dirty = false
	return nil
}
