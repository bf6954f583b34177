//go:build !tinygo

package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/ospid/pkg/actuator"
	"github.com/itohio/ospid/pkg/config"
	"github.com/itohio/ospid/pkg/controller"
	"github.com/itohio/ospid/pkg/nvm"
	"github.com/itohio/ospid/pkg/sensor"
)

// Mock runs a controller on a simulated plant in-process. Every tick of
// the mock advances the simulation by one controller sample period, so a
// short tick rate runs faster than real time.
type Mock struct {
	cfg *config.Config

	samples   chan Sample
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected bool

	ctrl  *controller.Controller
	plant *sensor.Simulator
	mem   nvm.Device
	now   time.Time
	step  time.Duration
}

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithStorage persists the simulated controller to dev instead of memory,
// so its state survives between runs.
func WithStorage(dev nvm.Device) MockOption {
	return func(m *Mock) { m.mem = dev }
}

// NewMock creates a mocked device. A nil cfg uses config.Default.
func NewMock(cfg *config.Config, opts ...MockOption) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}
	m := &Mock{
		cfg:     cfg,
		samples: make(chan Sample, DefaultBufferSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.mem == nil {
		m.mem = nvm.NewMemory(max(cfg.Storage.Size, controller.StorageSize))
	}
	return m
}

// Connect builds the simulated controller and starts ticking it.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	ccfg, err := m.cfg.LoopConfig()
	if err != nil {
		return err
	}
	store, err := controller.NewStore(m.mem)
	if err != nil {
		return err
	}
	in, err := store.LoadInput(m.cfg.InputSettings())
	if err != nil {
		return err
	}

	m.plant = sensor.NewSimulator(in.Plant, m.cfg.Simulator.Seed)
	m.now = time.Now()
	m.step = ccfg.SamplePeriod
	m.ctrl, err = controller.New(ccfg, store, in.Calibrate(m.plant, ccfg.Unit), &actuator.Simulated{Plant: m.plant},
		controller.WithClock(func() time.Time { return m.now }))
	if err != nil {
		return err
	}

	profiles, err := m.cfg.StoredProfiles()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if err := m.ctrl.SaveProfile(p.Slot, p.Profile); err != nil {
			return fmt.Errorf("storing profile %q: %w", p.Profile.Name(), err)
		}
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.connected = true
	m.wg.Add(1)
	go m.run(m.ctx)
	return nil
}

// Close stops the simulation and closes the samples channel.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	m.mu.Unlock()

	m.wg.Wait()
	close(m.samples)
	return nil
}

// Samples returns the channel for reading samples.
func (m *Mock) Samples() <-chan Sample {
	return m.samples
}

// Send applies cmd to the simulated controller.
func (m *Mock) Send(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	return Apply(m.ctrl, cmd, m.now)
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Mock) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Mock.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample := m.tick()
			select {
			case m.samples <- sample:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip
			}
		}
	}
}

func (m *Mock) tick() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(m.step)
	return NewSample(m.ctrl.Tick(m.now))
}
