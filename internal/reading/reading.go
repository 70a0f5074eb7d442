// Package reading decodes force-sensor notification frames and caches the
// most recent sample for lock-free polling.
package reading

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ctc/forcemon/internal/device"
)

// Reading is the most recently decoded sample of one peripheral
type Reading struct {
	ChannelA *float64
	ChannelB *float64

	// Arrival is the local receive time; the zero value means nothing has arrived
	Arrival time.Time

	MsSinceTransmit  *int
	MsSinceDetection int

	// Seq increases by one with every accepted frame
	Seq uint64
}

// HasValue reports whether channel A has been set by a frame
func (r Reading) HasValue() bool {
	return r.ChannelA != nil && !r.Arrival.IsZero()
}

func (r Reading) String() string {
	if !r.HasValue() {
		return "<no reading>"
	}
	b := "-"
	if r.ChannelB != nil {
		b = strconv.FormatFloat(*r.ChannelB, 'f', 1, 64)
	}
	tx := "-"
	if r.MsSinceTransmit != nil {
		tx = strconv.Itoa(*r.MsSinceTransmit)
	}
	return fmt.Sprintf("#%d a=%s b=%s tx=%sms det=%dms",
		r.Seq, strconv.FormatFloat(*r.ChannelA, 'f', 1, 64), b, tx, r.MsSinceDetection)
}

// Frame is a decoded notification payload. Optional fields are nil when absent.
type Frame struct {
	ChannelA         float64
	ChannelB         *float64
	MsSinceTransmit  *int
	MsSinceDetection *int
}

var (
	errMissingField = errors.New("missing required field")
	errNotNumber    = errors.New("not a number")
	errTooMany      = errors.New("too many fields")
)

const (
	maxFields    = 4
	framePadding = " \t\r\n\x00"
)

// Decode parses "a[,b[,c[,d]]]": two force channels followed by milliseconds
// since transmit and milliseconds since the last detection event.
// Whitespace and NUL padding around the frame are ignored.
func Decode(payload []byte) (Frame, error) {
	text := string(bytes.Trim(payload, framePadding))
	if text == "" {
		return Frame{}, &device.DecodeError{Payload: payload, Err: device.ErrEmptyPayload}
	}

	fields := strings.Split(text, ",")
	if len(fields) > maxFields {
		return Frame{}, &device.DecodeError{Payload: payload, Err: errTooMany}
	}

	var f Frame
	a, err := parseFloat(fields[0])
	if err != nil {
		return Frame{}, &device.DecodeError{Payload: payload, Field: 1, Err: err}
	}
	f.ChannelA = a

	if len(fields) >= 2 {
		b, err := parseFloat(fields[1])
		if err != nil {
			return Frame{}, &device.DecodeError{Payload: payload, Field: 2, Err: err}
		}
		f.ChannelB = &b
	}
	if len(fields) >= 3 {
		tx, err := parseInt(fields[2])
		if err != nil {
			return Frame{}, &device.DecodeError{Payload: payload, Field: 3, Err: err}
		}
		f.MsSinceTransmit = &tx
	}
	if len(fields) >= 4 {
		det, err := parseInt(fields[3])
		if err != nil {
			return Frame{}, &device.DecodeError{Payload: payload, Field: 4, Err: err}
		}
		f.MsSinceDetection = &det
	}
	return f, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errMissingField
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", errNotNumber, s)
	}
	return v, nil
}

// parseInt accepts integers and floats such as "23.0", truncating the latter
func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errMissingField
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	v, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("%w: %q out of range", errNotNumber, s)
	}
	return int(v), nil
}
