// Package voicetrack derives speech-activity windows for a rendered track.
// The windows drive background-music ducking during playback.
package voicetrack

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stillloop/mantra/internal/audio"
	"github.com/stillloop/mantra/internal/models"
)

const (
	// maxTimingGapMs is the largest gap between timed units that still counts
	// as one continuous speech segment.
	maxTimingGapMs = 150
	// minSegmentMs drops blips shorter than this from the silence-detection
	// strategy.
	minSegmentMs = 120

	silenceNoiseFloorDB = -30
	minSilenceDuration  = 300 * time.Millisecond
)

// Extractor produces speech windows from provider timing when available, and
// falls back to silence-detection over the rendered waveform otherwise.
type Extractor struct {
	runner *audio.Runner
}

// NewExtractor creates an extractor using the given ffmpeg runner for the
// silence-detection fallback.
func NewExtractor(runner *audio.Runner) *Extractor {
	return &Extractor{runner: runner}
}

// Extract returns ordered, non-overlapping speech windows for the rendered
// track. timing is the provider-supplied unit timing already offset to track
// positions; when empty the waveform fallback runs over the file at path.
// totalMs is the track length, used to close out the last speech window.
func (e *Extractor) Extract(ctx context.Context, path string, totalMs int64, timing []models.TimingSegment) ([]models.TimingSegment, error) {
	if len(timing) > 0 {
		return GroupTiming(timing), nil
	}

	log.Debug().Str("path", path).Msg("No provider timing, detecting silence")

	windows, err := e.runner.DetectSilence(ctx, path, silenceNoiseFloorDB, minSilenceDuration)
	if err != nil {
		return nil, fmt.Errorf("silence detection failed: %w", err)
	}
	return InvertSilence(windows, totalMs), nil
}

// GroupTiming merges contiguous timed units into speech segments, starting a
// new segment whenever the gap between units exceeds maxTimingGapMs.
func GroupTiming(units []models.TimingSegment) []models.TimingSegment {
	if len(units) == 0 {
		return nil
	}

	segments := []models.TimingSegment{units[0]}
	for _, u := range units[1:] {
		last := &segments[len(segments)-1]
		if u.StartMs-last.EndMs <= maxTimingGapMs {
			if u.EndMs > last.EndMs {
				last.EndMs = u.EndMs
			}
			continue
		}
		segments = append(segments, u)
	}
	return segments
}

// InvertSilence turns detected silence windows into speech windows over a
// track of totalMs length, dropping segments shorter than minSegmentMs.
func InvertSilence(silence []audio.SilenceWindow, totalMs int64) []models.TimingSegment {
	var segments []models.TimingSegment
	cursor := int64(0)

	for _, w := range silence {
		startMs := w.Start.Milliseconds()
		endMs := w.End.Milliseconds()
		if startMs > cursor {
			segments = append(segments, models.TimingSegment{StartMs: cursor, EndMs: startMs})
		}
		if endMs > cursor {
			cursor = endMs
		}
	}
	if cursor < totalMs {
		segments = append(segments, models.TimingSegment{StartMs: cursor, EndMs: totalMs})
	}

	kept := segments[:0]
	for _, s := range segments {
		if s.EndMs-s.StartMs >= minSegmentMs {
			kept = append(kept, s)
		}
	}
	return kept
}
