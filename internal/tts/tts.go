// Package tts provides speech synthesis over interchangeable providers with a
// deterministic synthetic fallback, so audio generation can always make
// forward progress even with no external provider configured.
package tts

import (
	"context"

	"github.com/stillloop/mantra/internal/models"
)

// Request describes one chunk to synthesize. Variant distinguishes
// independently-generated takes of the same text so repeated playback does
// not sound like an exact copy.
type Request struct {
	Text    string
	VoiceID string
	Pace    string // slow, medium, fast
	Variant int
}

// Result is the synthesized audio plus whatever timing data the provider
// supplies. Segments may be nil; callers fall back to waveform analysis.
type Result struct {
	Audio      []byte
	Format     string // container/codec hint: "wav" or "mp3"
	DurationMs int64
	Segments   []models.TimingSegment
}

// Provider synthesizes speech. Implementations are pure from the caller's
// point of view: same request, same logical output class; network access is
// the provider's internal concern.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// paceSpeed maps a pace profile to a playback-rate multiplier understood by
// the cloud providers.
func paceSpeed(pace string) float64 {
	switch pace {
	case "slow":
		return 0.82
	case "fast":
		return 1.12
	default:
		return 1.0
	}
}
