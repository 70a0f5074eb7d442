package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressPrinter(t *testing.T) {
	// GOAL: Verify the countdown redraws one line and clears it on stop
	//
	// TEST SCENARIO: 2s countdown → start → wait two ticks → stop twice → prefix shown, line cleared once

	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, "Scanning", 2*time.Second)
	p.Start()
	time.Sleep(2*progressUpdateInterval + 20*time.Millisecond)
	p.Stop()
	p.Stop()

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\rScanning (2s)"), "first frame MUST show the full duration")
	assert.GreaterOrEqual(t, strings.Count(out, "\rScanning"), 2, "MUST redraw on every tick")
	assert.True(t, strings.HasSuffix(out, clearLineSequence), "Stop MUST clear the line")
	assert.Equal(t, 1, strings.Count(out, clearLineSequence))
}

func TestProgressPrinterStopWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, "Scanning", time.Second)
	p.Stop()
	assert.Empty(t, buf.String())
}

func TestProgressPrinterRemaining(t *testing.T) {
	p := NewProgressPrinter(nil, "", 4*time.Second)
	assert.Equal(t, 4, p.remaining(0))
	assert.Equal(t, 4, p.remaining(300*time.Millisecond))
	assert.Equal(t, 3, p.remaining(700*time.Millisecond))
	assert.Equal(t, 0, p.remaining(5*time.Second))
}
