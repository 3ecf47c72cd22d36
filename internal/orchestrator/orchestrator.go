// Package orchestrator implements the ensure_audio job handler: it turns a
// session's affirmation list into one normalized, loop-ready merged track,
// caching every expensive intermediate by content hash.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stillloop/mantra/internal/assets"
	"github.com/stillloop/mantra/internal/audio"
	"github.com/stillloop/mantra/internal/models"
	"github.com/stillloop/mantra/internal/stitch"
	"github.com/stillloop/mantra/internal/tts"
)

// Stitcher merges an ordered list of chunk files into one delivery asset.
type Stitcher interface {
	Stitch(ctx context.Context, chunkPaths []string, mergeHash string, loopPad bool) (*stitch.Result, error)
}

// ActivityExtractor derives speech windows for the merged track.
type ActivityExtractor interface {
	Extract(ctx context.Context, path string, totalMs int64, timing []models.TimingSegment) ([]models.TimingSegment, error)
}

// SilenceRenderer materializes profile-conformant silence files.
// *audio.Runner satisfies it.
type SilenceRenderer interface {
	GenerateSilence(ctx context.Context, durationMs int64, dst string) error
}

// Uploader pushes finished tracks to durable object storage. It is optional;
// upload failure is never fatal to a job.
type Uploader interface {
	Upload(ctx context.Context, localPath, key, contentType, cacheControl string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Config tunes the orchestrator.
type Config struct {
	CacheDir            string // chunk and silence cache directory
	AffirmationsPerPlan int
	MaxConcurrentTTS    int // per-job TTS fan-out cap; providers have their own low ceilings
}

// Orchestrator handles ensure_audio jobs.
type Orchestrator struct {
	sessions SessionStore
	assets   assets.Store
	provider tts.Provider
	fallback tts.Provider // synthetic generator, never fails
	textgen  TextGenerator
	stitcher Stitcher
	activity ActivityExtractor
	silence  SilenceRenderer
	uploader Uploader // may be nil
	cfg      Config
}

// New wires an orchestrator. uploader may be nil when no object storage is
// configured.
func New(
	sessions SessionStore,
	assetStore assets.Store,
	provider tts.Provider,
	textgen TextGenerator,
	stitcher Stitcher,
	activity ActivityExtractor,
	silence SilenceRenderer,
	uploader Uploader,
	cfg Config,
) *Orchestrator {
	if cfg.AffirmationsPerPlan <= 0 {
		cfg.AffirmationsPerPlan = 5
	}
	if cfg.MaxConcurrentTTS <= 0 {
		cfg.MaxConcurrentTTS = 2
	}
	return &Orchestrator{
		sessions: sessions,
		assets:   assetStore,
		provider: provider,
		fallback: tts.NewToneProvider(),
		textgen:  textgen,
		stitcher: stitcher,
		activity: activity,
		silence:  silence,
		uploader: uploader,
		cfg:      cfg,
	}
}

// resolvedChunk is one sequence element bound to a local file.
type resolvedChunk struct {
	ref        ChunkRef
	path       string
	durationMs int64
	segments   []models.TimingSegment // tts chunks only, chunk-relative
	format     string
}

// Handle processes one ensure_audio job. Every step is idempotent: a retry
// reuses persisted affirmations and cached chunks, and an already-merged
// track short-circuits the whole stitch.
func (o *Orchestrator) Handle(ctx context.Context, job *models.Job) error {
	var payload models.EnsureAudioPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid ensure_audio payload: %w", err)
	}

	session, err := o.sessions.GetSession(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("session_id", session.ID.String()).
		Msg("Step 1: Ensuring affirmations")

	texts, err := o.ensureAffirmations(ctx, session)
	if err != nil {
		return err
	}

	seq := BuildSequence(texts, session.VoiceID, session.Pace)
	mergeHash := SequenceMergeHash(seq)

	log.Info().
		Str("session_id", session.ID.String()).
		Int("chunks", len(seq)).
		Str("merge_hash", mergeHash).
		Msg("Step 2: Chunk sequence derived")

	// Merged-track cache: if this exact sequence was already stitched under
	// this audio profile, link and stop.
	if merged, ok, err := o.assets.Resolve(ctx, models.AssetKindMergedTrack, mergeHash); err != nil {
		return fmt.Errorf("failed to resolve merged track: %w", err)
	} else if ok && locationUsable(merged.Location) {
		log.Info().Str("merge_hash", mergeHash).Msg("Merged track cached, skipping stitch")
		return o.sessions.LinkAudio(ctx, &models.SessionAudio{
			SessionID:   session.ID,
			AssetID:     merged.ID,
			GeneratedAt: time.Now(),
		})
	}

	log.Info().Str("session_id", session.ID.String()).Msg("Step 3: Resolving chunks")

	resolved, err := o.resolveChunks(ctx, seq, session)
	if err != nil {
		return err
	}

	log.Info().Str("session_id", session.ID.String()).Msg("Step 4: Stitching")

	paths := make([]string, len(resolved))
	for i, rc := range resolved {
		paths[i] = rc.path
	}
	result, err := o.stitcher.Stitch(ctx, paths, mergeHash, true)
	if err != nil {
		return fmt.Errorf("stitch failed: %w", err)
	}

	log.Info().Str("session_id", session.ID.String()).Msg("Step 5: Extracting voice activity")

	activity, err := o.extractActivity(ctx, resolved, result)
	if err != nil {
		// Ducking data is an enhancement; the track itself is done.
		log.Warn().Err(err).Msg("Voice activity extraction failed")
		activity = nil
	}

	location := result.Path
	if o.uploader != nil {
		if url, err := o.uploadMerged(ctx, result.Path, mergeHash); err != nil {
			log.Warn().Err(err).Msg("Upload failed, keeping local output")
		} else {
			location = url
		}
	}

	metadata := map[string]any{
		"duration_ms": result.DurationMs,
		"normalized":  result.Normalized,
		"local_path":  result.Path,
	}
	if result.Measurement != nil {
		metadata["input_lufs"] = result.Measurement.InputI
		metadata["input_true_peak"] = result.Measurement.InputTP
	}
	if activity != nil {
		metadata["voice_activity"] = activity
	}

	merged, err := o.assets.Store(ctx, models.AssetKindMergedTrack, mergeHash, location, metadata)
	if err != nil {
		return fmt.Errorf("failed to store merged asset: %w", err)
	}

	if err := o.sessions.LinkAudio(ctx, &models.SessionAudio{
		SessionID:   session.ID,
		AssetID:     merged.ID,
		GeneratedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to link audio to session: %w", err)
	}

	if err := o.recordProvenance(ctx, session.ID, merged.ID, resolved); err != nil {
		return fmt.Errorf("failed to record provenance: %w", err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("asset_id", merged.ID.String()).
		Int64("duration_ms", result.DurationMs).
		Msg("Audio generation complete")

	return nil
}

// ensureAffirmations returns the session's affirmation texts, generating and
// persisting them first if the session has none. Existing rows win, which
// makes a partial-failure retry reuse what was already saved.
func (o *Orchestrator) ensureAffirmations(ctx context.Context, session *models.Session) ([]string, error) {
	existing, err := o.sessions.ListAffirmations(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list affirmations: %w", err)
	}
	if len(existing) > 0 {
		texts := make([]string, len(existing))
		for i, a := range existing {
			texts[i] = a.Text
		}
		return texts, nil
	}

	texts, err := o.textgen.GenerateAffirmations(ctx, session.Intention, o.cfg.AffirmationsPerPlan)
	if err != nil {
		return nil, fmt.Errorf("affirmation generation failed: %w", err)
	}

	rows := make([]*models.Affirmation, len(texts))
	now := time.Now()
	for i, text := range texts {
		rows[i] = &models.Affirmation{
			ID:               uuid.New(),
			SessionID:        session.ID,
			Idx:              i,
			Text:             text,
			ModerationStatus: "pending",
			CreatedAt:        now,
		}
	}
	if err := o.sessions.SaveAffirmations(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to save affirmations: %w", err)
	}
	return texts, nil
}

// resolveChunks binds every sequence element to a local file, producing
// missing content on the way: silence is rendered once per distinct duration,
// TTS chunks are synthesized under the per-job concurrency cap.
func (o *Orchestrator) resolveChunks(ctx context.Context, seq []ChunkRef, session *models.Session) ([]resolvedChunk, error) {
	if err := os.MkdirAll(o.cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	// Resolve each distinct hash exactly once, then fan the results back out
	// over the (repeating) sequence.
	byHash := make(map[string]*resolvedChunk)
	var uniqueTTS []ChunkRef
	for _, ref := range seq {
		if _, seen := byHash[ref.Hash]; seen {
			continue
		}
		byHash[ref.Hash] = nil
		switch ref.Kind {
		case models.AssetKindSilence:
			rc, err := o.resolveSilence(ctx, ref)
			if err != nil {
				return nil, err
			}
			byHash[ref.Hash] = rc
		case models.AssetKindTTSChunk:
			uniqueTTS = append(uniqueTTS, ref)
		}
	}

	// TTS fan-out, bounded separately from the job-level concurrency cap.
	sem := make(chan struct{}, o.cfg.MaxConcurrentTTS)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, ref := range uniqueTTS {
		wg.Add(1)
		go func(ref ChunkRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rc, err := o.resolveTTS(ctx, ref, session)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			byHash[ref.Hash] = rc
		}(ref)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	resolved := make([]resolvedChunk, len(seq))
	for i, ref := range seq {
		rc := byHash[ref.Hash]
		if rc == nil {
			return nil, fmt.Errorf("chunk %s unresolved", ref.Hash)
		}
		resolved[i] = *rc
		resolved[i].ref = ref
	}
	return resolved, nil
}

func (o *Orchestrator) resolveSilence(ctx context.Context, ref ChunkRef) (*resolvedChunk, error) {
	if asset, ok, err := o.assets.Resolve(ctx, models.AssetKindSilence, ref.Hash); err != nil {
		return nil, fmt.Errorf("failed to resolve silence: %w", err)
	} else if ok && fileExists(asset.Location) {
		return &resolvedChunk{ref: ref, path: asset.Location, durationMs: ref.DurationMs, format: "wav"}, nil
	}

	path := filepath.Join(o.cfg.CacheDir, "silence-"+ref.Hash+".wav")
	if err := o.silence.GenerateSilence(ctx, ref.DurationMs, path); err != nil {
		return nil, fmt.Errorf("failed to render silence: %w", err)
	}
	if _, err := o.assets.Store(ctx, models.AssetKindSilence, ref.Hash, path, map[string]any{
		"duration_ms": ref.DurationMs,
	}); err != nil {
		return nil, fmt.Errorf("failed to store silence asset: %w", err)
	}
	return &resolvedChunk{ref: ref, path: path, durationMs: ref.DurationMs, format: "wav"}, nil
}

func (o *Orchestrator) resolveTTS(ctx context.Context, ref ChunkRef, session *models.Session) (*resolvedChunk, error) {
	if asset, ok, err := o.assets.Resolve(ctx, models.AssetKindTTSChunk, ref.Hash); err != nil {
		return nil, fmt.Errorf("failed to resolve chunk: %w", err)
	} else if ok && fileExists(asset.Location) {
		rc := &resolvedChunk{ref: ref, path: asset.Location}
		rc.durationMs, rc.segments, rc.format = chunkMetadata(asset.Metadata)
		return rc, nil
	}

	req := tts.Request{
		Text:    ref.Text,
		VoiceID: session.VoiceID,
		Pace:    session.Pace,
		Variant: ref.Variant,
	}
	result, err := o.provider.Synthesize(ctx, req)
	if err != nil {
		// Transient-external failures never fail the job: the synthetic
		// generator always produces a usable chunk.
		log.Warn().Err(err).
			Str("provider", o.provider.Name()).
			Int("variant", ref.Variant).
			Msg("TTS failed, using synthetic fallback")
		result, err = o.fallback.Synthesize(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("synthetic fallback failed: %w", err)
		}
	}

	path := filepath.Join(o.cfg.CacheDir, "chunk-"+ref.Hash+"."+result.Format)
	if err := os.WriteFile(path, result.Audio, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write chunk: %w", err)
	}

	metadata := map[string]any{
		"duration_ms": result.DurationMs,
		"format":      result.Format,
	}
	if len(result.Segments) > 0 {
		metadata["segments"] = result.Segments
	}
	if _, err := o.assets.Store(ctx, models.AssetKindTTSChunk, ref.Hash, path, metadata); err != nil {
		return nil, fmt.Errorf("failed to store chunk asset: %w", err)
	}

	return &resolvedChunk{
		ref:        ref,
		path:       path,
		durationMs: result.DurationMs,
		segments:   result.Segments,
		format:     result.Format,
	}, nil
}

// extractActivity prefers provider timing when every TTS chunk carried it,
// offsetting chunk-relative segments to track positions; otherwise it falls
// back to silence detection over the rendered file.
func (o *Orchestrator) extractActivity(ctx context.Context, resolved []resolvedChunk, result *stitch.Result) ([]models.TimingSegment, error) {
	allTimed := true
	for _, rc := range resolved {
		if rc.ref.Kind == models.AssetKindTTSChunk && len(rc.segments) == 0 {
			allTimed = false
			break
		}
	}

	var timing []models.TimingSegment
	if allTimed {
		offset := int64(stitch.LeadInMs)
		for _, rc := range resolved {
			for _, seg := range rc.segments {
				timing = append(timing, models.TimingSegment{
					StartMs: offset + seg.StartMs,
					EndMs:   offset + seg.EndMs,
				})
			}
			offset += rc.durationMs
		}
	}

	return o.activity.Extract(ctx, result.Path, result.DurationMs, timing)
}

func (o *Orchestrator) uploadMerged(ctx context.Context, localPath, mergeHash string) (string, error) {
	key := "merged/" + mergeHash + audio.DeliveryExt

	var url string
	err := retry.Do(
		func() error {
			var err error
			url, err = o.uploader.Upload(ctx, localPath, key, audio.DeliveryMime, "public, max-age=31536000, immutable")
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
	)
	if err != nil {
		return "", err
	}
	return url, nil
}

func (o *Orchestrator) recordProvenance(ctx context.Context, sessionID, assetID uuid.UUID, resolved []resolvedChunk) error {
	entries := make([]*models.ChunkProvenance, len(resolved))
	now := time.Now()
	for i, rc := range resolved {
		codec := audio.PCMCodec
		if rc.format == "mp3" {
			codec = "mp3"
		}
		entries[i] = &models.ChunkProvenance{
			ID:         uuid.New(),
			SessionID:  sessionID,
			AssetID:    assetID,
			Kind:       rc.ref.Kind,
			Idx:        i,
			StorageKey: filepath.Base(rc.path),
			DurationMs: rc.durationMs,
			Codec:      codec,
			Checksum:   rc.ref.Hash,
			CreatedAt:  now,
		}
	}
	return o.sessions.RecordProvenance(ctx, entries)
}

// chunkMetadata reads duration, timing segments, and format back out of a
// cached asset's metadata blob. The blob may have round-tripped through
// JSON, so it is decoded structurally rather than by type assertion.
func chunkMetadata(meta map[string]any) (int64, []models.TimingSegment, string) {
	var decoded struct {
		DurationMs int64                  `json:"duration_ms"`
		Format     string                 `json:"format"`
		Segments   []models.TimingSegment `json:"segments"`
	}
	data, err := json.Marshal(meta)
	if err == nil {
		_ = json.Unmarshal(data, &decoded)
	}
	if decoded.Format == "" {
		decoded.Format = "wav"
	}
	return decoded.DurationMs, decoded.Segments, decoded.Format
}

// locationUsable reports whether a cached merged-track location still points
// at retrievable content: a remote URL, or a local file that still exists.
func locationUsable(location string) bool {
	if len(location) >= 4 && location[:4] == "http" {
		return true
	}
	return fileExists(location)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
