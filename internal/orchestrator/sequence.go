package orchestrator

import (
	"github.com/stillloop/mantra/internal/assets"
	"github.com/stillloop/mantra/internal/models"
)

// ChunkRef is one element of the chunk sequence: either a TTS variant of an
// affirmation or a silence spacer. The sequence is fully determined by the
// affirmation list, voice, and pace, so re-deriving it always yields the same
// hashes in the same order.
type ChunkRef struct {
	Kind       models.AssetKind
	Hash       string
	Text       string // tts chunks only
	Variant    int    // tts chunks only
	DurationMs int64  // silence chunks only
}

// silenceTiming is the fixed silence policy per pace profile.
type silenceTiming struct {
	shortMs int64 // between the two variants of one affirmation
	longMs  int64 // after each affirmation
}

func silenceTimingFor(pace string) silenceTiming {
	switch pace {
	case "slow":
		return silenceTiming{shortMs: 2500, longMs: 7000}
	case "fast":
		return silenceTiming{shortMs: 1500, longMs: 3500}
	default:
		return silenceTiming{shortMs: 2000, longMs: 5000}
	}
}

// BuildSequence lays out the waveform order for a session: each affirmation
// is read twice (two independently generated variants, so the repeat does not
// sound like a splice), separated by a short silence, with a long silence
// closing out each affirmation before the next one begins.
func BuildSequence(affirmations []string, voiceID, pace string) []ChunkRef {
	timing := silenceTimingFor(pace)
	seq := make([]ChunkRef, 0, len(affirmations)*4)

	for _, text := range affirmations {
		for variant := 1; variant <= 2; variant++ {
			seq = append(seq, ChunkRef{
				Kind:    models.AssetKindTTSChunk,
				Hash:    assets.ChunkHash(text, voiceID, pace, variant),
				Text:    text,
				Variant: variant,
			})
			silenceMs := timing.longMs
			if variant == 1 {
				silenceMs = timing.shortMs
			}
			seq = append(seq, ChunkRef{
				Kind:       models.AssetKindSilence,
				Hash:       assets.SilenceHash(silenceMs),
				DurationMs: silenceMs,
			})
		}
	}
	return seq
}

// SequenceMergeHash derives the merge-level content hash from the ordered
// constituent hashes.
func SequenceMergeHash(seq []ChunkRef) string {
	hashes := make([]string, len(seq))
	for i, ref := range seq {
		hashes[i] = ref.Hash
	}
	return assets.MergeHash(hashes)
}
