package force

import (
	"fmt"
	"strconv"
	"strings"
)

// Sentinel marks a Value that carries no number
type Sentinel int

const (
	NoSentinel Sentinel = iota
	SentinelNA
	SentinelTimeout
	SentinelError
)

func (s Sentinel) String() string {
	switch s {
	case SentinelNA:
		return "N/A"
	case SentinelTimeout:
		return "Timeout"
	case SentinelError:
		return "Error"
	default:
		return ""
	}
}

// Value is a force reading or one of the sentinels NA, Timeout and Error
type Value struct {
	num      float64
	sentinel Sentinel
}

var (
	NA           = Value{sentinel: SentinelNA}
	TimeoutValue = Value{sentinel: SentinelTimeout}
	ErrorValue   = Value{sentinel: SentinelError}
)

// Number wraps a numeric reading
func Number(v float64) Value {
	return Value{num: v}
}

// Float returns the number; ok is false for sentinels
func (v Value) Float() (float64, bool) {
	return v.num, v.sentinel == NoSentinel
}

func (v Value) IsSentinel() bool {
	return v.sentinel != NoSentinel
}

func (v Value) Sentinel() Sentinel {
	return v.sentinel
}

// String renders numbers with one decimal ("412.5") and sentinels by name ("N/A")
func (v Value) String() string {
	if v.sentinel != NoSentinel {
		return v.sentinel.String()
	}
	return strconv.FormatFloat(v.num, 'f', 1, 64)
}

// Readings is the result of GetBothReadings
type Readings struct {
	A                Value
	B                Value
	MsSinceTransmit  int
	MsSinceDetection int
}

func (r Readings) String() string {
	return fmt.Sprintf("%s,%s,%d,%d", r.A, r.B, r.MsSinceTransmit, r.MsSinceDetection)
}

func sentinelReadings(v Value) Readings {
	return Readings{A: v, B: v}
}

// Mode selects how readings are obtained from the peripheral
type Mode int

const (
	// OneShot sends GET_FORCE per reading and waits for the reply
	OneShot Mode = iota
	// Continuous streams readings and serves the latest one
	Continuous
)

func (m Mode) String() string {
	if m == Continuous {
		return "continuous"
	}
	return "oneshot"
}

// ParseMode parses "oneshot" or "continuous"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "oneshot", "one-shot", "one_shot", "":
		return OneShot, nil
	case "continuous", "stream":
		return Continuous, nil
	default:
		return OneShot, fmt.Errorf("unknown mode %q (expected oneshot or continuous)", s)
	}
}
