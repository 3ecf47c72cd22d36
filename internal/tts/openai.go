package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIConfig configures the OpenAI TTS adapter.
type OpenAIConfig struct {
	APIKey     string
	Model      string // "tts-1-hd" (default), "tts-1", "gpt-4o-mini-tts"
	Timeout    time.Duration
	MaxRetries int
	BaseURL    string // optional (tests)
}

// OpenAIProvider synthesizes speech via the official OpenAI SDK. The speech
// endpoint returns audio only, no timing data.
type OpenAIProvider struct {
	model  string
	client openai.Client
}

// openaiVoices is the set of voice names the speech endpoint accepts. Voice
// ids outside this set map to the default.
var openaiVoices = map[string]bool{
	"alloy": true, "ash": true, "coral": true, "echo": true, "fable": true,
	"onyx": true, "nova": true, "sage": true, "shimmer": true,
}

// NewOpenAIProvider creates an OpenAI TTS adapter.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = string(openai.SpeechModelTTS1HD)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		model:  cfg.Model,
		client: openai.NewClient(opts...),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	voice := req.VoiceID
	if !openaiVoices[voice] {
		voice = "onyx"
	}

	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(p.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		Input:          req.Text,
		Speed:          openai.Float(paceSpeed(req.Pace)),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("openai returned no audio data")
	}

	return &Result{
		Audio:      audio,
		Format:     "mp3",
		DurationMs: estimateSpeechMs(req.Text, req.Pace),
	}, nil
}
