//go:build linux

package indicator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// LED drives a single GPIO output line
type LED struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	on   bool
}

// NewLED requests the given line offset of the chip as an output, initially off
func NewLED(chipName string, offset int) (*LED, error) {
	if chipName == "" {
		chipName = DefaultChip
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("perchscale"))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request led pin %d: %w", offset, err)
	}

	return &LED{
		chip: chip,
		line: line,
	}, nil
}

// Set switches the LED on or off (no-op if the state is unchanged)
func (l *LED) Set(on bool) error {
	if on == l.on {
		return nil
	}

	value := 0
	if on {
		value = 1
	}
	if err := l.line.SetValue(value); err != nil {
		return fmt.Errorf("set led pin: %w", err)
	}
	l.on = on

	return nil
}

// Close switches the LED off and releases the line and chip
func (l *LED) Close() error {
	var errs []error

	if l.line != nil {
		if err := l.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("reset led pin: %w", err))
		}
		if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure led pin: %w", err))
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close led pin: %w", err))
		}
	}
	if l.chip != nil {
		if err := l.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
