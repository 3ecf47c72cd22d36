package tts

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	unifiedgenai "google.golang.org/genai"
)

// GeminiConfig configures the Gemini TTS adapter.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiProvider synthesizes speech with the unified genai SDK using
// response_modalities: ["audio"]. Gemini returns raw PCM which is wrapped
// into a WAV container; it supplies no timing data.
type GeminiProvider struct {
	cfg    GeminiConfig
	client *unifiedgenai.Client
}

// NewGeminiProvider creates a Gemini TTS adapter.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-pro-preview-tts"
	}
	client, err := unifiedgenai.NewClient(ctx, &unifiedgenai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: unifiedgenai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiProvider{cfg: cfg, client: client}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	promptText := "[tone: calm, soothing, " + paceHint(req.Pace) + "] " + req.Text

	contents := []*unifiedgenai.Content{
		{
			Role: "user",
			Parts: []*unifiedgenai.Part{
				unifiedgenai.NewPartFromText(promptText),
			},
		},
	}

	temp := float32(1.0)
	config := &unifiedgenai.GenerateContentConfig{
		Temperature:        &temp,
		ResponseModalities: []string{"audio"},
		SpeechConfig: &unifiedgenai.SpeechConfig{
			VoiceConfig: &unifiedgenai.VoiceConfig{
				PrebuiltVoiceConfig: &unifiedgenai.PrebuiltVoiceConfig{
					VoiceName: req.VoiceID,
				},
			},
		},
	}

	var audioBuffer bytes.Buffer
	var lastMimeType string

	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.cfg.Model, contents, config) {
		if err != nil {
			return nil, fmt.Errorf("TTS stream error: %w", err)
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.Content == nil || cand.Content.Parts == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				audioBuffer.Write(part.InlineData.Data)
				if part.InlineData.MIMEType != "" {
					lastMimeType = part.InlineData.MIMEType
				}
			}
		}
	}

	if audioBuffer.Len() == 0 {
		return nil, fmt.Errorf("TTS returned no audio data")
	}

	audioBytes := audioBuffer.Bytes()
	params := parseAudioMimeType(lastMimeType)
	format := "wav"
	var durationMs int64
	if strings.HasPrefix(lastMimeType, "audio/L") {
		bytesPerSample := params.bitsPerSample / 8
		durationMs = int64(len(audioBytes)) * 1000 / int64(params.rate*bytesPerSample)
		audioBytes = wrapWAV(audioBytes, params.rate, params.bitsPerSample, 1)
	} else {
		// Already-containered audio passes through untouched; the label must
		// follow the MIME type so the bytes land under the right extension.
		durationMs = estimateSpeechMs(req.Text, req.Pace)
		format = formatFromMime(lastMimeType)
	}

	log.Debug().
		Str("model", p.cfg.Model).
		Str("voice", req.VoiceID).
		Int("audio_size_bytes", len(audioBytes)).
		Msg("Gemini TTS audio generated")

	return &Result{
		Audio:      audioBytes,
		Format:     format,
		DurationMs: durationMs,
	}, nil
}

// formatFromMime maps a response MIME type to a file extension for audio
// that arrives in its own container.
func formatFromMime(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch base {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/aac":
		return "m4a"
	case "audio/ogg":
		return "ogg"
	case "audio/flac":
		return "flac"
	case "", "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	}
	if sub := strings.TrimPrefix(base, "audio/"); sub != base && sub != "" {
		return sub
	}
	return "wav"
}

func paceHint(pace string) string {
	switch pace {
	case "slow":
		return "very slow and deliberate pacing with gentle pauses"
	case "fast":
		return "light, steady pacing"
	default:
		return "relaxed, even pacing"
	}
}

type audioParams struct {
	bitsPerSample int
	rate          int
}

// parseAudioMimeType parses bits per sample and rate from an audio MIME type
// such as "audio/L16;rate=24000".
func parseAudioMimeType(mimeType string) audioParams {
	params := audioParams{bitsPerSample: 16, rate: 24000}

	parts := strings.Split(mimeType, ";")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "rate=") {
			if rate, err := strconv.Atoi(strings.Split(part, "=")[1]); err == nil {
				params.rate = rate
			}
		} else if strings.HasPrefix(part, "audio/L") {
			re := regexp.MustCompile(`audio/L(\d+)`)
			if matches := re.FindStringSubmatch(part); len(matches) > 1 {
				if bits, err := strconv.Atoi(matches[1]); err == nil {
					params.bitsPerSample = bits
				}
			}
		}
	}
	return params
}
