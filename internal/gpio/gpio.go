// Package gpio reads the caregiver override buttons wired to the device.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the override button levels.
type Reader interface {
	// Read returns whether the mark-asleep and mark-awake buttons are held.
	// The buttons pull the line low: raw 0 = held.
	Read() (asleep, awake bool, err error)

	// Close releases GPIO resources.
	Close() error
}

// Pin defaults (BCM numbering)
const (
	DefaultPinMarkAsleep = 26
	DefaultPinMarkAwake  = 16
)

// Press is a completed button press.
type Press int

const (
	PressNone Press = iota
	PressMarkAsleep
	PressMarkAwake
)

func (p Press) String() string {
	switch p {
	case PressMarkAsleep:
		return "mark_asleep"
	case PressMarkAwake:
		return "mark_awake"
	}
	return "none"
}

// Presses turns polled button levels into presses. A press fires once when a
// button goes from released to held; holding it does not repeat. If both
// buttons are held at once nothing fires until both are released. The first
// Update only records levels, so a button held at boot is not a press.
type Presses struct {
	asleep, awake bool
	jammed        bool
	seeded        bool
}

// Update takes the current levels and returns the press they complete.
func (p *Presses) Update(asleep, awake bool) Press {
	prevAsleep, prevAwake := p.asleep, p.awake
	p.asleep, p.awake = asleep, awake

	if !p.seeded {
		p.seeded = true
		p.jammed = asleep && awake
		return PressNone
	}

	if asleep && awake {
		p.jammed = true
		return PressNone
	}
	if p.jammed {
		if !asleep && !awake {
			p.jammed = false
		}
		return PressNone
	}
	switch {
	case asleep && !prevAsleep:
		return PressMarkAsleep
	case awake && !prevAwake:
		return PressMarkAwake
	}
	return PressNone
}
