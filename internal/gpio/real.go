//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the override buttons from the Linux GPIO character device.
type RealReader struct {
	chip   *gpiocdev.Chip
	asleep *gpiocdev.Line
	awake  *gpiocdev.Line
}

// NewRealReader requests both button lines as pulled-up inputs.
func NewRealReader(pinAsleep, pinAwake int) (*RealReader, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	asleep, err := chip.RequestLine(pinAsleep, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request mark-asleep pin %d: %w", pinAsleep, err)
	}

	awake, err := chip.RequestLine(pinAwake, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		asleep.Close()
		chip.Close()
		return nil, fmt.Errorf("request mark-awake pin %d: %w", pinAwake, err)
	}

	return &RealReader{chip: chip, asleep: asleep, awake: awake}, nil
}

// Read returns which buttons are held. A held button pulls its line to 0.
func (r *RealReader) Read() (bool, bool, error) {
	asleepRaw, err := r.asleep.Value()
	if err != nil {
		return false, false, fmt.Errorf("read mark-asleep pin: %w", err)
	}

	awakeRaw, err := r.awake.Value()
	if err != nil {
		return false, false, fmt.Errorf("read mark-awake pin: %w", err)
	}

	return asleepRaw == 0, awakeRaw == 0, nil
}

// Close returns the lines to input with pull-down, the Pi boot default, and
// releases them.
func (r *RealReader) Close() error {
	var errs []error

	for name, line := range map[string]*gpiocdev.Line{"mark-asleep": r.asleep, "mark-awake": r.awake} {
		if line == nil {
			continue
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
