package voicetrack

import (
	"context"
	"testing"
	"time"

	"github.com/stillloop/mantra/internal/audio"
	"github.com/stillloop/mantra/internal/models"
)

func TestGroupTiming_MergesSmallGaps(t *testing.T) {
	// Word-level units with sub-150ms gaps form one segment; the 2s pause
	// starts a new one.
	units := []models.TimingSegment{
		{StartMs: 500, EndMs: 800},
		{StartMs: 900, EndMs: 1300},  // 100ms gap, merge
		{StartMs: 1450, EndMs: 1800}, // 150ms gap, still merge
		{StartMs: 3800, EndMs: 4200}, // 2s gap, new segment
	}

	segments := GroupTiming(units)
	want := []models.TimingSegment{
		{StartMs: 500, EndMs: 1800},
		{StartMs: 3800, EndMs: 4200},
	}
	if len(segments) != len(want) {
		t.Fatalf("segments %v, want %v", segments, want)
	}
	for i := range want {
		if segments[i] != want[i] {
			t.Errorf("segment %d: %v, want %v", i, segments[i], want[i])
		}
	}
}

func TestGroupTiming_Empty(t *testing.T) {
	if got := GroupTiming(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

// TestGroupTiming_OverlappingUnits asserts out-of-order end times never
// shrink a segment.
func TestGroupTiming_OverlappingUnits(t *testing.T) {
	units := []models.TimingSegment{
		{StartMs: 0, EndMs: 1000},
		{StartMs: 400, EndMs: 700}, // contained in the first
	}
	segments := GroupTiming(units)
	if len(segments) != 1 || segments[0].EndMs != 1000 {
		t.Errorf("segments %v", segments)
	}
}

func TestInvertSilence(t *testing.T) {
	silence := []audio.SilenceWindow{
		{Start: 2 * time.Second, End: 4 * time.Second},
		{Start: 7 * time.Second, End: 9 * time.Second},
	}

	segments := InvertSilence(silence, 10_000)
	want := []models.TimingSegment{
		{StartMs: 0, EndMs: 2000},
		{StartMs: 4000, EndMs: 7000},
		{StartMs: 9000, EndMs: 10_000},
	}
	if len(segments) != len(want) {
		t.Fatalf("segments %v, want %v", segments, want)
	}
	for i := range want {
		if segments[i] != want[i] {
			t.Errorf("segment %d: %v, want %v", i, segments[i], want[i])
		}
	}
}

// TestInvertSilence_LeadingSilenceAndBlips asserts a track that opens with
// silence produces no zero-length head segment, and sub-120ms blips between
// silences are dropped.
func TestInvertSilence_LeadingSilenceAndBlips(t *testing.T) {
	silence := []audio.SilenceWindow{
		{Start: 0, End: 1 * time.Second},
		{Start: 1100 * time.Millisecond, End: 3 * time.Second}, // 100ms blip before this
	}

	segments := InvertSilence(silence, 5000)
	want := []models.TimingSegment{{StartMs: 3000, EndMs: 5000}}
	if len(segments) != 1 || segments[0] != want[0] {
		t.Errorf("segments %v, want %v", segments, want)
	}
}

func TestInvertSilence_AllSilent(t *testing.T) {
	silence := []audio.SilenceWindow{{Start: 0, End: 5 * time.Second}}
	if segments := InvertSilence(silence, 5000); len(segments) != 0 {
		t.Errorf("expected no speech, got %v", segments)
	}
}

// TestExtract_PrefersTiming asserts provider timing bypasses waveform
// analysis entirely; no ffmpeg runner is touched.
func TestExtract_PrefersTiming(t *testing.T) {
	e := NewExtractor(nil)

	timing := []models.TimingSegment{
		{StartMs: 500, EndMs: 900},
		{StartMs: 1000, EndMs: 1500},
	}
	segments, err := e.Extract(context.Background(), "ignored.m4a", 10_000, timing)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(segments) != 1 || segments[0].StartMs != 500 || segments[0].EndMs != 1500 {
		t.Errorf("segments %v", segments)
	}
}
