package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ProfileVersion tags every content hash with the audio profile generation.
// Bumping it invalidates all cached chunks and merges at once.
const ProfileVersion = "v1"

// chunkKey is the canonical description of a TTS chunk. Field order is fixed;
// hashes must be stable across machines and releases.
type chunkKey struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	Pace    string `json:"pace"`
	Variant int    `json:"variant"`
	Profile string `json:"profile"`
}

type silenceKey struct {
	DurationMs int64  `json:"duration_ms"`
	Profile    string `json:"profile"`
}

type mergeKey struct {
	ChunkHashes []string `json:"chunk_hashes"`
	Profile     string   `json:"profile"`
}

// ChunkHash returns the content hash for one synthesized affirmation variant.
func ChunkHash(text, voiceID, pace string, variant int) string {
	return digest(chunkKey{
		Text:    text,
		VoiceID: voiceID,
		Pace:    pace,
		Variant: variant,
		Profile: ProfileVersion,
	})
}

// SilenceHash returns the content hash for a silence asset of the given length.
func SilenceHash(durationMs int64) string {
	return digest(silenceKey{DurationMs: durationMs, Profile: ProfileVersion})
}

// MergeHash returns the content hash of a merged track, derived from the
// ordered constituent chunk hashes. Any change to any chunk or to the audio
// profile yields a different merge hash.
func MergeHash(chunkHashes []string) string {
	return digest(mergeKey{ChunkHashes: chunkHashes, Profile: ProfileVersion})
}

func digest(v any) string {
	// json.Marshal of a fixed-field struct is deterministic.
	data, err := json.Marshal(v)
	if err != nil {
		// Only unmarshalable types can fail here; the key structs cannot.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
