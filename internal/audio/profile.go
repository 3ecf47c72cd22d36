// Package audio wraps the external ffmpeg binary for decode, concatenate,
// loudness, silence-detection, and transcode operations, all pinned to one
// fixed audio profile.
package audio

// The audio profile. Every intermediate artifact is s16le mono 44.1 kHz PCM;
// delivery is AAC in an m4a container laid out for progressive download.
// These values pair with assets.ProfileVersion: changing any of them without
// bumping the version tag would silently poison the merge cache.
const (
	SampleRate = 44100
	Channels   = 1
	BitDepth   = 16

	PCMCodec        = "pcm_s16le"
	DeliveryCodec   = "aac"
	DeliveryBitrate = "96k"
	DeliveryExt     = ".m4a"
	DeliveryMime    = "audio/mp4"
)
