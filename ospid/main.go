package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/ospid/pkg/config"
	"github.com/itohio/ospid/pkg/controller"
	"github.com/itohio/ospid/pkg/link"
	"github.com/itohio/ospid/pkg/monitor"
	"github.com/itohio/ospid/pkg/nvm"
)

func main() {
	var (
		portFlag     = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag     = flag.Bool("mock", false, "Run a simulated controller instead of a serial device")
		listFlag     = flag.Bool("list", false, "List serial ports and exit")
		smoothFlag   = flag.Int("smooth", -1, "Number of samples averaged for display (overrides config)")
		recordFlag   = flag.String("record", "", "Write the sample history to this CSV file on exit")
		pointsFlag   = flag.Int("points", 0, "Maximum rows written by -record (0 = all)")
		durationFlag = flag.Duration("duration", 0, "Stop after this long (0 = until interrupted)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [command ...]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Commands are sent on start and read from stdin, one per line:")
		fmt.Fprintln(flag.CommandLine.Output(), "  S <setpoint>  M <percent>  L  A  C  P <slot>  X  Q  R")
		fmt.Fprintln(flag.CommandLine.Output())
		flag.PrintDefaults()
	}
	flag.Parse()

	if *listFlag {
		if err := listPorts(os.Stdout); err != nil {
			log.Fatalf("Failed to list ports: %v", err)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override serial port if provided via command line
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *smoothFlag >= 0 {
		cfg.Monitor.Smooth = *smoothFlag
	}

	var commands []link.Command
	for _, arg := range flag.Args() {
		cmd, err := link.ParseCommand(arg)
		if err != nil {
			log.Fatalf("Invalid command: %v", err)
		}
		commands = append(commands, cmd)
	}

	dev, cleanup, err := openDevice(cfg, *mockFlag)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *durationFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *durationFlag)
		defer cancel()
	}

	mon := monitor.New(cfg)
	if err := run(ctx, dev, mon, cfg.Monitor.Smooth, commands, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}

	if *recordFlag != "" {
		rows := monitor.Downsample(nil, mon.Samples(), *pointsFlag)
		if err := writeCSV(*recordFlag, rows); err != nil {
			log.Fatalf("Failed to record samples: %v", err)
		}
		log.Printf("Recorded %d samples to %s", len(rows), *recordFlag)
	}
}

// openDevice returns the serial device, or a simulated controller whose
// state is kept in the configured storage image.
func openDevice(cfg *config.Config, mock bool) (link.Device, func(), error) {
	if !mock {
		return link.New(cfg.Serial.Port, cfg.Serial.Baud, 0), func() {}, nil
	}

	if cfg.Storage.Path == "" {
		return link.NewMock(cfg), func() {}, nil
	}
	img, f, err := nvm.OpenFile(cfg.Storage.Path, max(cfg.Storage.Size, controller.StorageSize))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := f.Close(); err != nil {
			log.Printf("Closing storage image: %v", err)
		}
	}
	return link.NewMock(cfg, link.WithStorage(img)), cleanup, nil
}

// run connects dev, sends the initial commands and streams samples through
// mon until ctx is done. Further commands are read from in.
func run(ctx context.Context, dev link.Device, mon *monitor.Monitor, smooth int, commands []link.Command, in io.Reader, out io.Writer) error {
	if err := dev.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	mon.OnUpdate(newPrinter(out))

	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.ProcessSamples(monitor.Smooth(smooth, 0)(dev.Samples()))
	}()

	if r, ok := dev.(interface{ Replies() <-chan string }); ok {
		go func() {
			for line := range r.Replies() {
				if line != "OK" {
					log.Printf("Device: %s", line)
				}
			}
		}()
	}

	for _, cmd := range commands {
		if err := dev.Send(cmd); err != nil {
			log.Printf("Failed to send %s: %v", cmd, err)
		}
	}
	if in != nil {
		go readCommands(ctx, in, dev)
	}

	<-ctx.Done()

	// Closing the device closes the samples channel, which ends the pipeline.
	if err := dev.Close(); err != nil {
		log.Printf("Closing device: %v", err)
	}
	<-done
	return nil
}

func readCommands(ctx context.Context, in io.Reader, dev link.Device) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		cmd, err := link.ParseCommand(line)
		if err != nil {
			log.Printf("%v", err)
			continue
		}
		if err := dev.Send(cmd); err != nil {
			log.Printf("Failed to send %s: %v", cmd, err)
		}
	}
}

func listPorts(w io.Writer) error {
	ports, err := link.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Description)
	}
	return nil
}
