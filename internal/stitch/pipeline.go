// Package stitch merges an ordered chunk sequence into one loop-ready
// delivery asset: decode → concatenate → normalize → loop-pad → encode.
package stitch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/stillloop/mantra/internal/audio"
)

// Loop padding keeps the loop seam off true digital silence so repeated
// playback does not click.
const (
	LeadInMs  = 500
	TailOutMs = 750
)

// Result describes the merged asset the pipeline produced.
type Result struct {
	Path        string
	DurationMs  int64
	Normalized  bool
	Measurement *audio.LoudnessMeasurement // pre-correction analysis, nil if skipped
}

// Pipeline runs the stitch stages through an ffmpeg runner. Each invocation
// works in its own scratch directory; intermediates are removed on success
// and failure alike, and no partial output file is left at the final path.
type Pipeline struct {
	runner *audio.Runner
	outDir string
}

// NewPipeline creates a pipeline writing final assets under outDir.
func NewPipeline(runner *audio.Runner, outDir string) *Pipeline {
	return &Pipeline{runner: runner, outDir: outDir}
}

// Stitch merges the ordered chunk files into a single normalized delivery
// file named after mergeHash. loopPad adds room-tone padding for affirmation
// tracks meant to repeat seamlessly.
func (p *Pipeline) Stitch(ctx context.Context, chunkPaths []string, mergeHash string, loopPad bool) (*Result, error) {
	if len(chunkPaths) == 0 {
		return nil, fmt.Errorf("empty chunk sequence")
	}

	scratch, err := os.MkdirTemp(p.outDir, "stitch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	// Stage 1: decode everything to the common PCM profile and concatenate.
	decoded := make([]string, len(chunkPaths))
	for i, src := range chunkPaths {
		dst := filepath.Join(scratch, fmt.Sprintf("chunk-%04d.wav", i))
		if err := p.runner.DecodeToPCM(ctx, src, dst); err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", i, err)
		}
		decoded[i] = dst
	}

	concatPath := filepath.Join(scratch, "concat.wav")
	if err := p.runner.ConcatPCM(ctx, decoded, concatPath); err != nil {
		return nil, fmt.Errorf("concatenate: %w", err)
	}

	// Stage 2: two-pass loudness correction. An unparseable measurement is
	// non-fatal; the unnormalized waveform moves on.
	current := concatPath
	normalized := false
	measurement, err := p.runner.MeasureLoudness(ctx, concatPath, audio.AffirmationLoudness)
	if err != nil {
		log.Warn().Err(err).Msg("Loudness measurement failed, skipping normalization")
	} else {
		normPath := filepath.Join(scratch, "normalized.wav")
		if err := p.runner.NormalizeLoudness(ctx, concatPath, normPath, audio.AffirmationLoudness, measurement); err != nil {
			log.Warn().Err(err).Msg("Loudness correction failed, using unnormalized audio")
		} else {
			current = normPath
			normalized = true
		}
	}

	// Stage 3: loop padding.
	if loopPad {
		lead := filepath.Join(scratch, "lead.wav")
		tail := filepath.Join(scratch, "tail.wav")
		if err := p.runner.GenerateRoomTone(ctx, LeadInMs, lead); err != nil {
			return nil, fmt.Errorf("render lead-in: %w", err)
		}
		if err := p.runner.GenerateRoomTone(ctx, TailOutMs, tail); err != nil {
			return nil, fmt.Errorf("render tail-out: %w", err)
		}
		padded := filepath.Join(scratch, "padded.wav")
		if err := p.runner.ConcatPCM(ctx, []string{lead, current, tail}, padded); err != nil {
			return nil, fmt.Errorf("apply loop padding: %w", err)
		}
		current = padded
	}

	durationMs, err := audio.WAVDurationMs(current)
	if err != nil {
		return nil, fmt.Errorf("read merged duration: %w", err)
	}

	// Stage 4: encode to delivery profile, staged in scratch and moved into
	// place only once complete so readers never observe a partial file.
	if err := os.MkdirAll(p.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	staged := filepath.Join(scratch, "final"+audio.DeliveryExt)
	if err := p.runner.Encode(ctx, current, staged, true); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	finalPath := filepath.Join(p.outDir, mergeHash+audio.DeliveryExt)
	if err := os.Rename(staged, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move merged asset into place: %w", err)
	}

	log.Info().
		Str("path", finalPath).
		Int64("duration_ms", durationMs).
		Bool("normalized", normalized).
		Int("chunks", len(chunkPaths)).
		Msg("Stitch complete")

	return &Result{
		Path:        finalPath,
		DurationMs:  durationMs,
		Normalized:  normalized,
		Measurement: measurement,
	}, nil
}
