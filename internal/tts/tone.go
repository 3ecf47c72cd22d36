package tts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"github.com/stillloop/mantra/internal/models"
)

const (
	toneSampleRate = 44100
	toneMinFreqHz  = 160.0
	toneMaxFreqHz  = 420.0
	toneFadeMs     = 50
	toneMinMs      = 1200
)

// ToneProvider is the deterministic last-resort synthesizer: a pure sine tone
// whose pitch is derived from the text and variant, with a duration estimated
// from the word count. It never fails and always reports an "always speaking"
// timing segment covering its full length.
type ToneProvider struct{}

// NewToneProvider creates the synthetic generator.
func NewToneProvider() *ToneProvider {
	return &ToneProvider{}
}

func (p *ToneProvider) Name() string {
	return "tone"
}

func (p *ToneProvider) Synthesize(_ context.Context, req Request) (*Result, error) {
	durationMs := estimateSpeechMs(req.Text, req.Pace)
	freq := toneFrequency(req.Text, req.VoiceID, req.Variant)

	sampleCount := int(int64(toneSampleRate) * durationMs / 1000)
	fadeSamples := toneSampleRate * toneFadeMs / 1000
	pcm := make([]byte, 0, sampleCount*2)
	buf := bytes.NewBuffer(pcm)

	for i := 0; i < sampleCount; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / toneSampleRate)
		gain := 0.25
		if i < fadeSamples {
			gain *= float64(i) / float64(fadeSamples)
		}
		if remaining := sampleCount - i; remaining < fadeSamples {
			gain *= float64(remaining) / float64(fadeSamples)
		}
		sample := int16(v * gain * math.MaxInt16)
		binary.Write(buf, binary.LittleEndian, sample)
	}

	return &Result{
		Audio:      wrapWAV(buf.Bytes(), toneSampleRate, 16, 1),
		Format:     "wav",
		DurationMs: durationMs,
		Segments:   []models.TimingSegment{{StartMs: 0, EndMs: durationMs}},
	}, nil
}

// estimateSpeechMs approximates spoken duration at ~150 words per minute,
// stretched by pace.
func estimateSpeechMs(text, pace string) int64 {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	ms := int64(float64(words) / 150.0 * 60_000.0 / paceSpeed(pace))
	if ms < toneMinMs {
		ms = toneMinMs
	}
	return ms
}

// toneFrequency picks a pitch in the speech band, stable for a given
// (text, voice, variant) triple.
func toneFrequency(text, voiceID string, variant int) float64 {
	sum := sha256.Sum256([]byte(text + "|" + voiceID + "|" + string(rune('0'+variant))))
	n := binary.BigEndian.Uint16(sum[:2])
	return toneMinFreqHz + (toneMaxFreqHz-toneMinFreqHz)*float64(n)/math.MaxUint16
}

// wrapWAV prepends a RIFF header to raw little-endian PCM.
func wrapWAV(pcm []byte, sampleRate, bitsPerSample, numChannels int) []byte {
	dataSize := len(pcm)
	bytesPerSample := bitsPerSample / 8
	blockAlign := numChannels * bytesPerSample
	byteRate := sampleRate * blockAlign
	chunkSize := 36 + dataSize

	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, []byte("RIFF"))
	binary.Write(header, binary.LittleEndian, uint32(chunkSize))
	binary.Write(header, binary.LittleEndian, []byte("WAVE"))
	binary.Write(header, binary.LittleEndian, []byte("fmt "))
	binary.Write(header, binary.LittleEndian, uint32(16))
	binary.Write(header, binary.LittleEndian, uint16(1))
	binary.Write(header, binary.LittleEndian, uint16(numChannels))
	binary.Write(header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(header, binary.LittleEndian, uint32(byteRate))
	binary.Write(header, binary.LittleEndian, uint16(blockAlign))
	binary.Write(header, binary.LittleEndian, uint16(bitsPerSample))
	binary.Write(header, binary.LittleEndian, []byte("data"))
	binary.Write(header, binary.LittleEndian, uint32(dataSize))

	return append(header.Bytes(), pcm...)
}
