package main

import (
	"fmt"

	"github.com/ctc/forcemon/pkg/force"
	"github.com/fatih/color"
)

var (
	colorNA      = color.New(color.FgYellow)
	colorTimeout = color.New(color.FgMagenta)
	colorError   = color.New(color.FgRed, color.Bold)
	colorValue   = color.New(color.FgGreen)
	colorName    = color.New(color.FgCyan, color.Bold)
	colorFailed  = color.New(color.FgRed, color.Bold)
)

// formatValue renders a reading, colouring sentinels
func formatValue(v force.Value) string {
	switch v.Sentinel() {
	case force.SentinelNA:
		return colorNA.Sprint(v.String())
	case force.SentinelTimeout:
		return colorTimeout.Sprint(v.String())
	case force.SentinelError:
		return colorError.Sprint(v.String())
	default:
		return colorValue.Sprint(v.String())
	}
}

// formatReadings renders both channels and, when a value is present, the timing fields
func formatReadings(r force.Readings) string {
	line := fmt.Sprintf("A=%s B=%s", formatValue(r.A), formatValue(r.B))
	if _, ok := r.A.Float(); ok {
		line += fmt.Sprintf(" tx=%dms det=%dms", r.MsSinceTransmit, r.MsSinceDetection)
	}
	return line
}
