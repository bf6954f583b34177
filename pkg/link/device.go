//go:build !tinygo

package link

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate matches the firmware UART.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the samples channel buffer.
	DefaultBufferSize = 100
)

// Device is a controller reachable over the line protocol, real or mocked.
type Device interface {
	Connect() error
	Close() error
	Samples() <-chan Sample
	Send(cmd Command) error
	IsConnected() bool
}

var (
	_ Device = (*Serial)(nil)
	_ Device = (*Mock)(nil)
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Serial is a controller connected over a serial port.
type Serial struct {
	port     string
	baudRate int

	conn      serial.Port
	samples   chan Sample
	replies   chan string
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected bool
}

// New creates a serial device for port. Zero values select the defaults.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		samples:  make(chan Sample, bufSize),
		replies:  make(chan string, bufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect opens the port and starts reading status lines.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.read(port)
	}()

	return nil
}

// Close closes the port and the samples channel.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	if err := d.conn.Close(); err != nil {
		log.Printf("link: closing serial port: %v", err)
	}
	d.conn = nil
	d.connected = false
	d.mu.Unlock()

	d.wg.Wait()
	close(d.samples)
	close(d.replies)
	return nil
}

// Samples returns the channel of received status lines.
func (d *Serial) Samples() <-chan Sample {
	return d.samples
}

// Replies returns the channel of non-status lines ("OK", "ERR ...").
func (d *Serial) Replies() <-chan string {
	return d.replies
}

// Send writes a command line.
func (d *Serial) Send(cmd Command) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}
	if _, err := io.WriteString(d.conn, cmd.String()+"\n"); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Serial) read(r io.Reader) {
	dispatch(d.ctx, r, d.samples, d.replies)
}

// dispatch splits incoming lines into samples and replies until r ends or
// ctx is cancelled. Nothing blocks on a full channel.
func dispatch(ctx context.Context, r io.Reader, samples chan<- Sample, replies chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line == "OK" || strings.HasPrefix(line, "ERR") {
			select {
			case replies <- line:
			default:
				log.Printf("link: replies channel full, dropping %q", line)
			}
			continue
		}

		sample, err := ParseStatus(line)
		if err != nil {
			log.Printf("link: failed to parse line '%s': %v", line, err)
			continue
		}

		select {
		case samples <- sample:
		case <-ctx.Done():
			return
		default:
			log.Printf("link: samples channel full, dropping sample")
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Printf("link: reading serial port: %v", err)
	}
}
