package controller

import (
	"errors"
	"fmt"
	"log"

	"github.com/itohio/ospid/pkg/actuator"
	"github.com/itohio/ospid/pkg/nvm"
	"github.com/itohio/ospid/pkg/profile"
	"github.com/itohio/ospid/pkg/sensor"
	"github.com/itohio/ospid/pkg/settings"
)

// Storage layout. Every block ends in its CRC trailer and has its own seed
// so that swapped blocks are detected.
const (
	stateBase    = 0
	stateSize    = 64
	inputBase    = stateBase + stateSize
	inputSize    = 64
	outputBase   = inputBase + inputSize
	outputSize   = 16
	progressBase = outputBase + outputSize
	profileBase  = progressBase + 16

	// ProfileSlots is the number of stored profiles.
	ProfileSlots = 3

	// StorageSize is the smallest device that holds the whole layout.
	StorageSize = profileBase + ProfileSlots*profile.BlockSize
)

var (
	stateBlock  = settings.Block{Name: "controller", Base: stateBase, Size: stateSize, Seed: 0xC0DE}
	inputBlock  = settings.Block{Name: "input", Base: inputBase, Size: inputSize, Seed: 0x1111}
	outputBlock = settings.Block{Name: "output", Base: outputBase, Size: outputSize, Seed: 0x2222}
)

// Store owns the non-volatile layout: controller state, input and output
// settings, the profile bank and the profile progress marker.
type Store struct {
	dev      nvm.Device
	opts     []settings.Option
	yield    func()
	profiles *profile.Bank
	progress *profile.Progress
}

// NewStore checks that the layout fits dev. opts apply to every save; a
// WithYield among them replaces the loop hook installed by the controller.
func NewStore(dev nvm.Device, opts ...settings.Option) (*Store, error) {
	s := &Store{dev: dev}
	s.opts = append([]settings.Option{settings.WithYield(s.onWrite)}, opts...)
	s.profiles = profile.NewBank(dev, profileBase, ProfileSlots, s.opts...)
	s.progress = profile.NewProgress(dev, progressBase)
	if err := settings.CheckLayout(dev, s.Blocks()...); err != nil {
		return nil, fmt.Errorf("storage layout: %w", err)
	}
	return s, nil
}

// onWrite runs after every physical write so the loop keeps servicing the
// output while a block is being written.
func (s *Store) onWrite() {
	if s.yield != nil {
		s.yield()
	}
}

// Blocks returns every CRC protected block of the layout.
func (s *Store) Blocks() []settings.Block {
	blocks := []settings.Block{stateBlock, inputBlock, outputBlock}
	return append(blocks, s.profiles.Blocks()...)
}

// Profiles returns the profile bank.
func (s *Store) Profiles() *profile.Bank { return s.profiles }

// Progress returns the profile progress marker.
func (s *Store) Progress() *profile.Progress { return s.progress }

// LoadInput restores the input settings. A corrupt block is replaced by
// def, which is persisted again.
func (s *Store) LoadInput(def sensor.Settings) (sensor.Settings, error) {
	v := def
	err := load(s, inputBlock, v.Restore, func() error {
		v = def
		return s.SaveInput(v)
	})
	return v, err
}

// SaveInput persists the input settings.
func (s *Store) SaveInput(v sensor.Settings) error {
	return inputBlock.Save(s.dev, v.Save, s.opts...)
}

// LoadOutput restores the output settings, falling back to def.
func (s *Store) LoadOutput(def actuator.Settings) (actuator.Settings, error) {
	v := def
	err := load(s, outputBlock, v.Restore, func() error {
		v = def
		return s.SaveOutput(v)
	})
	return v, err
}

// SaveOutput persists the output settings.
func (s *Store) SaveOutput(v actuator.Settings) error {
	return outputBlock.Save(s.dev, v.Save, s.opts...)
}

func (s *Store) loadState(def State) (State, error) {
	v := def
	err := load(s, stateBlock, v.restore, func() error {
		v = def
		return s.saveState(v)
	})
	return v, err
}

func (s *Store) saveState(v State) error {
	return stateBlock.Save(s.dev, v.save, s.opts...)
}

// load restores blk, or runs reset when it does not verify. Only I/O errors
// are returned; a corrupt block is logged and reset.
func load(s *Store, blk settings.Block, restore func(*settings.Cursor), reset func() error) error {
	err := blk.Restore(s.dev, restore)
	if err == nil {
		return nil
	}
	if !errors.Is(err, settings.ErrCorrupt) {
		return fmt.Errorf("restore %s: %w", blk.Name, err)
	}
	log.Printf("settings: %s block corrupt, restoring defaults", blk.Name)
	if err := reset(); err != nil {
		return fmt.Errorf("reset %s: %w", blk.Name, err)
	}
	return nil
}
