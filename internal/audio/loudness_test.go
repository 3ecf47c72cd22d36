package audio

import (
	"strings"
	"testing"
	"time"
)

const loudnormStderr = `size=N/A time=00:00:42.00 bitrate=N/A speed= 312x
[Parsed_loudnorm_0 @ 0x5586]
{
	"input_i" : "-27.61",
	"input_tp" : "-9.22",
	"input_lra" : "4.50",
	"input_thresh" : "-38.13",
	"output_i" : "-20.02",
	"output_tp" : "-3.51",
	"output_lra" : "3.90",
	"output_thresh" : "-30.47",
	"normalization_type" : "dynamic",
	"target_offset" : "0.02"
}
`

func TestParseLoudnormOutput(t *testing.T) {
	m, err := parseLoudnormOutput(loudnormStderr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.InputI != -27.61 {
		t.Errorf("input_i %v", m.InputI)
	}
	if m.InputTP != -9.22 {
		t.Errorf("input_tp %v", m.InputTP)
	}
	if m.InputLRA != 4.5 {
		t.Errorf("input_lra %v", m.InputLRA)
	}
	if m.InputThresh != -38.13 {
		t.Errorf("input_thresh %v", m.InputThresh)
	}
	if m.Offset != 0.02 {
		t.Errorf("target_offset %v", m.Offset)
	}
}

func TestParseLoudnormOutput_NoBlock(t *testing.T) {
	if _, err := parseLoudnormOutput("frame=1 size=2\n"); err == nil {
		t.Error("expected error for output without a json block")
	}
}

// TestLoudnormFilter asserts the second pass is linear and feeds every
// first-pass measurement back in.
func TestLoudnormFilter(t *testing.T) {
	m := &LoudnessMeasurement{
		InputI:      -27.61,
		InputTP:     -9.22,
		InputLRA:    4.5,
		InputThresh: -38.13,
		Offset:      0.02,
	}
	filter := LoudnormFilter(AffirmationLoudness, m)

	for _, want := range []string{
		"I=-20", "TP=-1.5", "LRA=11",
		"measured_I=-27.61", "measured_TP=-9.22", "measured_LRA=4.5",
		"measured_thresh=-38.13", "offset=0.02", "linear=true",
	} {
		if !strings.Contains(filter, want) {
			t.Errorf("filter missing %q: %s", want, filter)
		}
	}
}

const silenceStderr = `[silencedetect @ 0x55f1] silence_start: 1.5
[silencedetect @ 0x55f1] silence_end: 3.7 | silence_duration: 2.2
size=N/A time=00:00:10.00 bitrate=N/A
[silencedetect @ 0x55f1] silence_start: 6.25
[silencedetect @ 0x55f1] silence_end: 8 | silence_duration: 1.75
`

func TestParseSilenceDetect(t *testing.T) {
	windows := parseSilenceDetect(silenceStderr)
	if len(windows) != 2 {
		t.Fatalf("windows %d, want 2", len(windows))
	}
	if windows[0].Start != 1500*time.Millisecond || windows[0].End != 3700*time.Millisecond {
		t.Errorf("window 0: %v..%v", windows[0].Start, windows[0].End)
	}
	if windows[1].Start != 6250*time.Millisecond || windows[1].End != 8*time.Second {
		t.Errorf("window 1: %v..%v", windows[1].Start, windows[1].End)
	}
}

// TestParseSilenceDetect_DanglingStart asserts a start with no matching end
// (silence running to EOF is reported differently by some builds) is dropped
// rather than emitted half-formed.
func TestParseSilenceDetect_DanglingStart(t *testing.T) {
	windows := parseSilenceDetect("[silencedetect @ 0x1] silence_start: 4.0\n")
	if len(windows) != 0 {
		t.Errorf("windows %d, want 0", len(windows))
	}
}
