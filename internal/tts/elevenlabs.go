package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/stillloop/mantra/internal/models"
)

// ElevenLabsConfig configures the ElevenLabs REST adapter.
type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	ModelID string
	Timeout time.Duration
}

// ElevenLabsProvider synthesizes speech via the ElevenLabs with-timestamps
// endpoint, which returns character-level alignment alongside the audio. The
// alignment feeds the timing-based voice activity strategy.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

// NewElevenLabsProvider creates an ElevenLabs adapter.
func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ElevenLabsProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

type elevenSynthesisRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

type elevenSynthesisResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Alignment   *struct {
		Characters     []string  `json:"characters"`
		CharStartTimes []float64 `json:"character_start_times_seconds"`
		CharEndTimes   []float64 `json:"character_end_times_seconds"`
	} `json:"alignment"`
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.VoiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}

	speed := paceSpeed(req.Pace)
	if speed < 0.7 {
		speed = 0.7
	} else if speed > 1.2 {
		speed = 1.2
	}

	// Nudge stability per variant so the two takes of one affirmation do not
	// come out byte-identical.
	stability := 0.42 + 0.08*float64(req.Variant%2)

	body, err := json.Marshal(elevenSynthesisRequest{
		Text:    req.Text,
		ModelID: p.cfg.ModelID,
		VoiceSettings: elevenVoiceSettings{
			Stability:       stability,
			SimilarityBoost: 0.85,
			Speed:           speed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") +
		"/v1/text-to-speech/" + url.PathEscape(req.VoiceID) + "/with-timestamps" +
		"?output_format=mp3_44100_128"

	var parsed elevenSynthesisResponse
	err = retry.Do(
		func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("xi-api-key", p.cfg.APIKey)

			resp, err := p.client.Do(httpReq)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				err := fmt.Errorf("elevenlabs returned %d: %s", resp.StatusCode, snippet)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}
			return json.NewDecoder(resp.Body).Decode(&parsed)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs synthesis failed: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs returned no audio data")
	}

	segments, durationMs := alignmentToSegments(parsed)
	if durationMs == 0 {
		durationMs = estimateSpeechMs(req.Text, req.Pace)
	}

	return &Result{
		Audio:      audio,
		Format:     "mp3",
		DurationMs: durationMs,
		Segments:   segments,
	}, nil
}

// alignmentToSegments collapses character alignment into word-level timing
// segments by breaking on whitespace characters.
func alignmentToSegments(resp elevenSynthesisResponse) ([]models.TimingSegment, int64) {
	a := resp.Alignment
	if a == nil || len(a.Characters) == 0 ||
		len(a.CharStartTimes) != len(a.Characters) || len(a.CharEndTimes) != len(a.Characters) {
		return nil, 0
	}

	var segments []models.TimingSegment
	var open bool
	var start, end int64
	for i, ch := range a.Characters {
		if strings.TrimSpace(ch) == "" {
			if open {
				segments = append(segments, models.TimingSegment{StartMs: start, EndMs: end})
				open = false
			}
			continue
		}
		s := int64(a.CharStartTimes[i] * 1000)
		e := int64(a.CharEndTimes[i] * 1000)
		if !open {
			start, end = s, e
			open = true
		} else {
			end = e
		}
	}
	if open {
		segments = append(segments, models.TimingSegment{StartMs: start, EndMs: end})
	}

	var total int64
	if n := len(a.CharEndTimes); n > 0 {
		total = int64(a.CharEndTimes[n-1] * 1000)
	}
	return segments, total
}
