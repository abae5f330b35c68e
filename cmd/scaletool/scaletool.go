package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/fako1024/perchscale/pkg/clock"
	"github.com/fako1024/perchscale/pkg/discovery"
	"github.com/fako1024/perchscale/pkg/felicita"
	"github.com/fako1024/perchscale/pkg/scale"
	"github.com/fako1024/perchscale/pkg/simulator"
	"github.com/fako1024/perchscale/pkg/statefile"
)

type scanCmd struct {
	Timeout time.Duration `arg:"--timeout" default:"10s" help:"scan duration"`
	All     bool          `arg:"--all" help:"list every device, not only scales"`
	Save    bool          `arg:"--save" help:"cache the strongest scale for the logger"`
}

type deviceCmd struct {
	Address string        `arg:"--addr" help:"address of the scale [default: cached address]"`
	Timeout time.Duration `arg:"--timeout" default:"30s" help:"connection timeout"`
}

type simulateCmd struct {
	Scenario string        `arg:"positional" default:"random" help:"scenario to preview"`
	Duration time.Duration `arg:"--duration" default:"15s" help:"preview duration"`
	Interval time.Duration `arg:"--interval" default:"500ms" help:"sampling interval"`
	Seed     int64         `arg:"--seed" help:"random seed, 0 for a random one"`
}

// Args denotes the command line arguments
type Args struct {
	Scan     *scanCmd     `arg:"subcommand:scan" help:"scan for scales"`
	Tare     *deviceCmd   `arg:"subcommand:tare" help:"connect and zero the scale once"`
	Battery  *deviceCmd   `arg:"subcommand:battery" help:"connect and print the battery level"`
	Simulate *simulateCmd `arg:"subcommand:simulate" help:"print the weights a simulator scenario produces"`

	Name  string `arg:"--name" default:"FELICITA" help:"name (fragment) of the scale"`
	Debug bool   `arg:"-d,--debug" help:"enable debug logging"`
}

func main() {
	var args Args
	p := arg.MustParse(&args)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	if err := run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args Args) error {

	logger, err := scale.NewDefaultLogger(args.Debug)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case args.Scan != nil:
		return scan(ctx, args.Name, args.Scan, logger)
	case args.Tare != nil:
		return withDevice(ctx, args.Name, args.Tare, logger, func(dev scale.Device) error {
			if err := dev.Tare(); err != nil {
				return fmt.Errorf("failed to tare scale: %w", err)
			}
			fmt.Printf("tared scale %s\n", dev.ID())
			return nil
		})
	case args.Battery != nil:
		return withDevice(ctx, args.Name, args.Battery, logger, func(dev scale.Device) error {
			level, err := dev.BatteryLevel()
			if err != nil {
				return fmt.Errorf("failed to read battery level: %w", err)
			}
			fmt.Printf("battery: %.1f%%\n", level)
			return nil
		})
	case args.Simulate != nil:
		return preview(ctx, args.Simulate, clock.System{}, os.Stdout)
	}

	return nil
}

func scan(ctx context.Context, name string, cmd *scanCmd, logger scale.Logger) error {
	scanner, err := discovery.New(
		discovery.WithKeywords(name),
		discovery.WithTimeout(cmd.Timeout),
		discovery.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	fmt.Printf("Scanning for %v...\n", cmd.Timeout)
	all, err := scanner.Scan(ctx)
	if cerr := scanner.Close(); cerr != nil {
		logger.Debugf("failed to release bluetooth device: %s", cerr)
	}
	if err != nil {
		return err
	}

	candidates := all
	if !cmd.All {
		candidates = discovery.Filter(all, []string{name})
	}
	fmt.Printf("\nFound %d devices (%d total):\n\n", len(candidates), len(all))
	for _, c := range candidates {
		fmt.Printf("  %s\n", c)
	}

	scales := discovery.Filter(all, []string{name})
	if len(scales) == 0 {
		return discovery.ErrNoDevice
	}

	if cmd.Save {
		store, err := statefile.NewAddressStore()
		if err != nil {
			return err
		}
		if err := store.Save(scales[0].Address); err != nil {
			return err
		}
		fmt.Printf("\nSaved address %s to %s\n", scales[0].Address, store.Path())
	}

	return nil
}

func withDevice(ctx context.Context, name string, cmd *deviceCmd, logger scale.Logger, fn func(scale.Device) error) (err error) {
	addr := cmd.Address
	if addr == "" {
		store, err := statefile.NewAddressStore()
		if err != nil {
			return err
		}
		if addr, err = store.Load(); err != nil {
			if errors.Is(err, statefile.ErrNotFound) {
				return errors.New("no cached address, run `scaletool scan --save` or pass --addr")
			}
			return err
		}
	}

	dev, err := felicita.New(
		felicita.WithDeviceID(addr),
		felicita.WithDeviceName(name),
		felicita.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize Felicita scale: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()
	if err := dev.Connect(connectCtx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer func() {
		if cerr := dev.Disconnect(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(dev)
}

func preview(ctx context.Context, cmd *simulateCmd, clk clock.Clock, out io.Writer) error {
	scenario, err := simulator.ParseScenario(cmd.Scenario)
	if err != nil {
		return err
	}

	options := []func(*simulator.Simulator){
		simulator.WithClock(clk),
	}
	if cmd.Seed != 0 {
		options = append(options, simulator.WithSeed(cmd.Seed))
	}
	sim, err := simulator.New(scenario, options...)
	if err != nil {
		return err
	}
	if err := sim.Connect(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "Previewing scenario %s for %v\n\n", scenario, cmd.Duration)

	start := clk.Now()
	var last *float64
	for clk.Now().Sub(start) < cmd.Duration {
		if !sim.IsConnected() {
			fmt.Fprintf(out, "[%6.1fs] link lost\n", clk.Now().Sub(start).Seconds())
			if err := sim.Connect(ctx); err != nil {
				fmt.Fprintf(out, "[%6.1fs] reconnect failed: %s\n", clk.Now().Sub(start).Seconds(), err)
			}
		} else {
			w, err := sim.Weight()
			if err != nil {
				return err
			}

			// Only print significant changes
			if last == nil || w-*last > 1 || *last-w > 1 {
				fmt.Fprintf(out, "[%6.1fs] weight: %7.2fg\n", clk.Now().Sub(start).Seconds(), w)
				last = &w
			}
		}

		if err := clock.Sleep(ctx, clk, cmd.Interval); err != nil {
			return nil
		}
	}

	return nil
}
