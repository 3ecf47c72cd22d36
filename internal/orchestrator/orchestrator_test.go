package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stillloop/mantra/internal/assets"
	"github.com/stillloop/mantra/internal/models"
	"github.com/stillloop/mantra/internal/stitch"
	"github.com/stillloop/mantra/internal/tts"
)

func TestBuildSequence_Shape(t *testing.T) {
	seq := BuildSequence([]string{"I am calm", "I am focused"}, "voice-1", "medium")

	if len(seq) != 8 {
		t.Fatalf("sequence length %d, want 8 (2 affirmations x [v1, short, v2, long])", len(seq))
	}

	wantKinds := []models.AssetKind{
		models.AssetKindTTSChunk, models.AssetKindSilence,
		models.AssetKindTTSChunk, models.AssetKindSilence,
	}
	for i, ref := range seq {
		if ref.Kind != wantKinds[i%4] {
			t.Errorf("ref %d kind %s, want %s", i, ref.Kind, wantKinds[i%4])
		}
	}

	// Medium pace: 2000ms between variants, 5000ms between affirmations.
	if seq[1].DurationMs != 2000 {
		t.Errorf("short silence %dms", seq[1].DurationMs)
	}
	if seq[3].DurationMs != 5000 {
		t.Errorf("long silence %dms", seq[3].DurationMs)
	}

	// The two variants of one affirmation are distinct content.
	if seq[0].Hash == seq[2].Hash {
		t.Error("variant hashes collided")
	}
	// Equal silences share a hash: the cache stores them once.
	if seq[1].Hash != seq[5].Hash {
		t.Error("identical silences should share a hash")
	}
}

func TestBuildSequence_PaceChangesSilences(t *testing.T) {
	slow := BuildSequence([]string{"text"}, "v", "slow")
	fast := BuildSequence([]string{"text"}, "v", "fast")

	if slow[1].DurationMs != 2500 || slow[3].DurationMs != 7000 {
		t.Errorf("slow silences %d/%d", slow[1].DurationMs, slow[3].DurationMs)
	}
	if fast[1].DurationMs != 1500 || fast[3].DurationMs != 3500 {
		t.Errorf("fast silences %d/%d", fast[1].DurationMs, fast[3].DurationMs)
	}
}

func TestSequenceMergeHash_Stable(t *testing.T) {
	a := SequenceMergeHash(BuildSequence([]string{"one", "two"}, "v", "medium"))
	b := SequenceMergeHash(BuildSequence([]string{"one", "two"}, "v", "medium"))
	if a != b {
		t.Error("merge hash not stable across builds")
	}

	c := SequenceMergeHash(BuildSequence([]string{"one", "two"}, "v", "slow"))
	if a == c {
		t.Error("pace change did not change the merge hash")
	}
	d := SequenceMergeHash(BuildSequence([]string{"two", "one"}, "v", "medium"))
	if a == d {
		t.Error("affirmation order did not change the merge hash")
	}
}

// countingProvider produces tiny deterministic results and counts calls.
type countingProvider struct {
	mu       sync.Mutex
	calls    int
	failWith error
	timed    bool
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Synthesize(_ context.Context, req tts.Request) (*tts.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.failWith != nil {
		return nil, p.failWith
	}
	result := &tts.Result{
		Audio:      []byte("audio:" + req.Text),
		Format:     "wav",
		DurationMs: 1000,
	}
	if p.timed {
		result.Segments = []models.TimingSegment{{StartMs: 100, EndMs: 900}}
	}
	return result, nil
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeStitcher writes a real output file so cache-hit checks see it.
type fakeStitcher struct {
	mu     sync.Mutex
	outDir string
	calls  int
	paths  []string
}

func (f *fakeStitcher) Stitch(_ context.Context, chunkPaths []string, mergeHash string, loopPad bool) (*stitch.Result, error) {
	f.mu.Lock()
	f.calls++
	f.paths = append([]string{}, chunkPaths...)
	f.mu.Unlock()

	out := filepath.Join(f.outDir, mergeHash+".m4a")
	if err := os.WriteFile(out, []byte("merged"), 0o644); err != nil {
		return nil, err
	}
	return &stitch.Result{Path: out, DurationMs: 30_000, Normalized: true}, nil
}

// fakeExtractor records the timing it was handed.
type fakeExtractor struct {
	mu       sync.Mutex
	received []models.TimingSegment
}

func (f *fakeExtractor) Extract(_ context.Context, path string, totalMs int64, timing []models.TimingSegment) ([]models.TimingSegment, error) {
	f.mu.Lock()
	f.received = append([]models.TimingSegment{}, timing...)
	f.mu.Unlock()
	if len(timing) > 0 {
		return timing, nil
	}
	return []models.TimingSegment{{StartMs: 0, EndMs: totalMs}}, nil
}

// fakeSilence writes placeholder silence files and counts renders.
type fakeSilence struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSilence) GenerateSilence(_ context.Context, durationMs int64, dst string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return os.WriteFile(dst, []byte("silence"), 0o644)
}

type testEnv struct {
	sessions *MemorySessionStore
	assets   *assets.MemoryStore
	provider *countingProvider
	stitcher *fakeStitcher
	extract  *fakeExtractor
	silence  *fakeSilence
	orch     *Orchestrator
	session  *models.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	env := &testEnv{
		sessions: NewMemorySessionStore(),
		assets:   assets.NewMemoryStore(),
		provider: &countingProvider{timed: true},
		stitcher: &fakeStitcher{outDir: dir},
		extract:  &fakeExtractor{},
		silence:  &fakeSilence{},
	}
	env.session = &models.Session{
		ID:        uuid.New(),
		Title:     "Morning focus",
		Intention: "deep focus",
		VoiceID:   "voice-1",
		Pace:      "medium",
		CreatedAt: time.Now(),
	}
	env.sessions.PutSession(env.session)
	env.rebuild(t, dir)
	return env
}

// rebuild recreates the orchestrator over the same stores, as a worker
// restart would.
func (env *testEnv) rebuild(t *testing.T, dir string) {
	t.Helper()
	env.orch = New(
		env.sessions, env.assets, env.provider, TemplateGenerator{},
		env.stitcher, env.extract, env.silence, nil,
		Config{CacheDir: filepath.Join(dir, "cache"), AffirmationsPerPlan: 2, MaxConcurrentTTS: 2},
	)
}

func (env *testEnv) seedAffirmations(t *testing.T, texts ...string) {
	t.Helper()
	rows := make([]*models.Affirmation, len(texts))
	for i, text := range texts {
		rows[i] = &models.Affirmation{
			ID:        uuid.New(),
			SessionID: env.session.ID,
			Idx:       i,
			Text:      text,
			CreatedAt: time.Now(),
		}
	}
	if err := env.sessions.SaveAffirmations(context.Background(), rows); err != nil {
		t.Fatalf("seed affirmations: %v", err)
	}
}

func (env *testEnv) job(t *testing.T) *models.Job {
	t.Helper()
	payload, err := json.Marshal(models.EnsureAudioPayload{SessionID: env.session.ID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &models.Job{
		ID:      uuid.New(),
		Type:    models.JobTypeEnsureAudio,
		Status:  models.JobStatusProcessing,
		Payload: payload,
	}
}

func TestHandle_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.seedAffirmations(t, "I am calm", "I am focused")

	if err := env.orch.Handle(context.Background(), env.job(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// 2 affirmations x 2 variants.
	if env.provider.count() != 4 {
		t.Errorf("provider calls %d, want 4", env.provider.count())
	}
	// Medium pace uses two distinct silence durations, rendered once each.
	if env.silence.calls != 2 {
		t.Errorf("silence renders %d, want 2", env.silence.calls)
	}
	if env.stitcher.calls != 1 {
		t.Errorf("stitch calls %d, want 1", env.stitcher.calls)
	}
	if len(env.stitcher.paths) != 8 {
		t.Errorf("stitched %d chunks, want 8", len(env.stitcher.paths))
	}

	link, ok := env.sessions.AudioLink(env.session.ID)
	if !ok {
		t.Fatal("session audio not linked")
	}
	merged, found, err := env.assets.Resolve(context.Background(), models.AssetKindMergedTrack,
		SequenceMergeHash(BuildSequence([]string{"I am calm", "I am focused"}, "voice-1", "medium")))
	if err != nil || !found {
		t.Fatalf("merged asset not stored: found=%v err=%v", found, err)
	}
	if merged.ID != link.AssetID {
		t.Error("link points at a different asset")
	}

	prov := env.sessions.Provenance()
	if len(prov) != 8 {
		t.Fatalf("provenance entries %d, want 8", len(prov))
	}
	for i, e := range prov {
		if e.Idx != i {
			t.Errorf("provenance %d has idx %d", i, e.Idx)
		}
		if e.AssetID != merged.ID {
			t.Errorf("provenance %d points at wrong asset", i)
		}
	}
}

// TestHandle_SecondRunShortCircuits asserts a rerun of the same session does
// no synthesis and no stitching: the merged track is found by content hash.
func TestHandle_SecondRunShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	env.seedAffirmations(t, "I am calm", "I am focused")
	ctx := context.Background()

	if err := env.orch.Handle(ctx, env.job(t)); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	callsAfterFirst := env.provider.count()

	if err := env.orch.Handle(ctx, env.job(t)); err != nil {
		t.Fatalf("second handle: %v", err)
	}

	if env.provider.count() != callsAfterFirst {
		t.Errorf("second run synthesized %d chunks", env.provider.count()-callsAfterFirst)
	}
	if env.stitcher.calls != 1 {
		t.Errorf("second run stitched again (%d calls)", env.stitcher.calls)
	}
	if _, ok := env.sessions.AudioLink(env.session.ID); !ok {
		t.Error("link lost after cached rerun")
	}
}

// TestHandle_PartialCache asserts only uncached chunks are synthesized.
func TestHandle_PartialCache(t *testing.T) {
	env := newTestEnv(t)
	env.seedAffirmations(t, "I am calm", "I am focused")
	ctx := context.Background()

	// Pre-cache variant 1 of the first affirmation with a real file.
	hash := assets.ChunkHash("I am calm", "voice-1", "medium", 1)
	cached := filepath.Join(t.TempDir(), "cached.wav")
	if err := os.WriteFile(cached, []byte("cached audio"), 0o644); err != nil {
		t.Fatalf("write cached chunk: %v", err)
	}
	if _, err := env.assets.Store(ctx, models.AssetKindTTSChunk, hash, cached, map[string]any{
		"duration_ms": int64(1000),
		"format":      "wav",
		"segments":    []models.TimingSegment{{StartMs: 0, EndMs: 1000}},
	}); err != nil {
		t.Fatalf("pre-store chunk: %v", err)
	}

	if err := env.orch.Handle(ctx, env.job(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if env.provider.count() != 3 {
		t.Errorf("provider calls %d, want 3 (one chunk was cached)", env.provider.count())
	}
}

// TestHandle_StaleCacheEntryResynthesized asserts a cache record whose file
// vanished counts as a miss instead of feeding a dead path to the stitcher.
func TestHandle_StaleCacheEntryResynthesized(t *testing.T) {
	env := newTestEnv(t)
	env.seedAffirmations(t, "I am calm", "I am focused")
	ctx := context.Background()

	hash := assets.ChunkHash("I am calm", "voice-1", "medium", 1)
	if _, err := env.assets.Store(ctx, models.AssetKindTTSChunk, hash, "/nonexistent/chunk.wav", nil); err != nil {
		t.Fatalf("pre-store chunk: %v", err)
	}

	if err := env.orch.Handle(ctx, env.job(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if env.provider.count() != 4 {
		t.Errorf("provider calls %d, want 4 (stale entry resynthesized)", env.provider.count())
	}
}

// TestHandle_ProviderFailureFallsBack asserts a dead TTS provider never fails
// the job: the synthetic generator covers every chunk.
func TestHandle_ProviderFailureFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.seedAffirmations(t, "I am calm")
	env.provider.failWith = errors.New("provider down")

	if err := env.orch.Handle(context.Background(), env.job(t)); err != nil {
		t.Fatalf("handle should survive provider failure: %v", err)
	}
	if _, ok := env.sessions.AudioLink(env.session.ID); !ok {
		t.Error("no audio produced despite fallback")
	}
}

// TestHandle_GeneratesAffirmationsWhenMissing asserts a session with no
// stored affirmations gets them generated and persisted before synthesis.
func TestHandle_GeneratesAffirmationsWhenMissing(t *testing.T) {
	env := newTestEnv(t)

	if err := env.orch.Handle(context.Background(), env.job(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	affs, err := env.sessions.ListAffirmations(context.Background(), env.session.ID)
	if err != nil {
		t.Fatalf("list affirmations: %v", err)
	}
	if len(affs) != 2 {
		t.Fatalf("affirmations %d, want AffirmationsPerPlan=2", len(affs))
	}
	for i, a := range affs {
		if a.Idx != i {
			t.Errorf("affirmation %d has idx %d", i, a.Idx)
		}
		if a.ModerationStatus != "pending" {
			t.Errorf("affirmation %d moderation %q", i, a.ModerationStatus)
		}
	}

	// Variants are synthesized for the generated texts.
	if env.provider.count() != 4 {
		t.Errorf("provider calls %d, want 4", env.provider.count())
	}
}

// TestHandle_TimingOffsets asserts provider timing is shifted to track
// positions: lead-in first, then cumulative chunk durations.
func TestHandle_TimingOffsets(t *testing.T) {
	env := newTestEnv(t)
	env.seedAffirmations(t, "I am calm")

	if err := env.orch.Handle(context.Background(), env.job(t)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// Sequence: tts(1000ms), silence(2000ms), tts(1000ms), silence(5000ms);
	// each tts chunk reports one 100..900ms segment.
	want := []models.TimingSegment{
		{StartMs: stitch.LeadInMs + 100, EndMs: stitch.LeadInMs + 900},
		{StartMs: stitch.LeadInMs + 3000 + 100, EndMs: stitch.LeadInMs + 3000 + 900},
	}
	env.extract.mu.Lock()
	got := env.extract.received
	env.extract.mu.Unlock()

	if len(got) != len(want) {
		t.Fatalf("timing %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d: %v, want %v", i, got[i], want[i])
		}
	}
}

// TestHandle_MissingSession fails the job cleanly.
func TestHandle_MissingSession(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := json.Marshal(models.EnsureAudioPayload{SessionID: uuid.New()})
	job := &models.Job{ID: uuid.New(), Type: models.JobTypeEnsureAudio, Payload: payload}

	if err := env.orch.Handle(context.Background(), job); err == nil {
		t.Error("expected error for unknown session")
	}
}
