package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LoudnessTarget is the per-content-class loudness contract.
type LoudnessTarget struct {
	IntegratedLUFS float64
	TruePeakDB     float64
	LoudnessRange  float64
}

// AffirmationLoudness is the target for narrated affirmation tracks.
var AffirmationLoudness = LoudnessTarget{
	IntegratedLUFS: -20,
	TruePeakDB:     -1.5,
	LoudnessRange:  11,
}

// LoudnessMeasurement holds the first-pass loudnorm analysis of a waveform.
type LoudnessMeasurement struct {
	InputI      float64 // integrated loudness, LUFS
	InputTP     float64 // true peak, dBTP
	InputLRA    float64 // loudness range, LU
	InputThresh float64
	Offset      float64
}

// MeasureLoudness runs the first loudnorm pass and parses its JSON summary.
func (r *Runner) MeasureLoudness(ctx context.Context, src string, target LoudnessTarget) (*LoudnessMeasurement, error) {
	stderr, err := r.run(ctx,
		"-i", src,
		"-af", fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s:print_format=json",
			ftoa(target.IntegratedLUFS), ftoa(target.TruePeakDB), ftoa(target.LoudnessRange)),
		"-f", "null", "-",
	)
	if err != nil {
		return nil, err
	}
	return parseLoudnormOutput(stderr)
}

// NormalizeLoudness runs the second pass: a linear correction computed from
// the measured values, which avoids the overshoot of a one-shot dynamic pass.
func (r *Runner) NormalizeLoudness(ctx context.Context, src, dst string, target LoudnessTarget, m *LoudnessMeasurement) error {
	filter := LoudnormFilter(target, m)
	_, err := r.run(ctx,
		"-y", "-i", src,
		"-af", filter,
		"-ar", strconv.Itoa(SampleRate),
		"-c:a", PCMCodec,
		"-loglevel", "error",
		dst,
	)
	return err
}

// LoudnormFilter builds the second-pass filter string from first-pass
// measurements.
func LoudnormFilter(target LoudnessTarget, m *LoudnessMeasurement) string {
	return fmt.Sprintf(
		"loudnorm=I=%s:TP=%s:LRA=%s:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		ftoa(target.IntegratedLUFS), ftoa(target.TruePeakDB), ftoa(target.LoudnessRange),
		ftoa(m.InputI), ftoa(m.InputTP), ftoa(m.InputLRA), ftoa(m.InputThresh), ftoa(m.Offset),
	)
}

// loudnormJSON mirrors the loudnorm print_format=json block, which encodes
// every number as a string.
type loudnormJSON struct {
	InputI       string `json:"input_i"`
	InputTP      string `json:"input_tp"`
	InputLRA     string `json:"input_lra"`
	InputThresh  string `json:"input_thresh"`
	TargetOffset string `json:"target_offset"`
}

// parseLoudnormOutput extracts the trailing JSON block loudnorm prints on
// stderr after the stream summary.
func parseLoudnormOutput(stderr string) (*LoudnessMeasurement, error) {
	start := strings.LastIndex(stderr, "{")
	end := strings.LastIndex(stderr, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no loudnorm json block in ffmpeg output")
	}

	var raw loudnormJSON
	if err := json.Unmarshal([]byte(stderr[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse loudnorm output: %w", err)
	}

	m := &LoudnessMeasurement{}
	for _, f := range []struct {
		src string
		dst *float64
	}{
		{raw.InputI, &m.InputI},
		{raw.InputTP, &m.InputTP},
		{raw.InputLRA, &m.InputLRA},
		{raw.InputThresh, &m.InputThresh},
		{raw.TargetOffset, &m.Offset},
	} {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.src), 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable loudnorm value %q: %w", f.src, err)
		}
		*f.dst = v
	}
	return m, nil
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SilenceWindow is one detected silence span.
type SilenceWindow struct {
	Start time.Duration
	End   time.Duration
}

// DetectSilence runs ffmpeg silencedetect with the given noise floor (dBFS)
// and minimum silence duration, returning the detected windows in order.
func (r *Runner) DetectSilence(ctx context.Context, src string, noiseDB float64, minSilence time.Duration) ([]SilenceWindow, error) {
	stderr, err := r.run(ctx,
		"-i", src,
		"-af", fmt.Sprintf("silencedetect=noise=%sdB:d=%s", ftoa(noiseDB), ftoa(minSilence.Seconds())),
		"-f", "null", "-",
	)
	if err != nil {
		return nil, err
	}
	return parseSilenceDetect(stderr), nil
}

// parseSilenceDetect scans silencedetect log lines:
//
//	[silencedetect @ ...] silence_start: 1.234
//	[silencedetect @ ...] silence_end: 2.345 | silence_duration: 1.111
func parseSilenceDetect(stderr string) []SilenceWindow {
	var windows []SilenceWindow
	var current *SilenceWindow

	for _, line := range strings.Split(stderr, "\n") {
		if idx := strings.Index(line, "silence_start:"); idx >= 0 {
			v := strings.TrimSpace(line[idx+len("silence_start:"):])
			if sec, err := strconv.ParseFloat(v, 64); err == nil {
				current = &SilenceWindow{Start: secToDuration(sec)}
			}
			continue
		}
		if idx := strings.Index(line, "silence_end:"); idx >= 0 && current != nil {
			v := strings.TrimSpace(line[idx+len("silence_end:"):])
			if cut := strings.Index(v, "|"); cut >= 0 {
				v = strings.TrimSpace(v[:cut])
			}
			if sec, err := strconv.ParseFloat(v, 64); err == nil {
				current.End = secToDuration(sec)
				windows = append(windows, *current)
			}
			current = nil
		}
	}
	return windows
}

func secToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
