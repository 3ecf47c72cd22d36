package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Runner invokes ffmpeg with profile-pinned arguments.
type Runner struct {
	bin string
}

// NewRunner creates a Runner for the given ffmpeg binary ("ffmpeg" resolves
// via PATH).
func NewRunner(bin string) *Runner {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Runner{bin: bin}
}

// Available reports whether the configured ffmpeg binary can be resolved.
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.bin)
	return err == nil
}

// run executes ffmpeg and returns its stderr output, which carries all of
// ffmpeg's analysis results.
func (r *Runner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().Str("bin", r.bin).Strs("args", args).Msg("Running ffmpeg")

	if err := cmd.Run(); err != nil {
		return stderr.String(), fmt.Errorf("ffmpeg %s: %w: %s", args[len(args)-1], err, tail(stderr.String(), 400))
	}
	return stderr.String(), nil
}

// DecodeToPCM decodes any input into the intermediate PCM profile.
func (r *Runner) DecodeToPCM(ctx context.Context, src, dst string) error {
	_, err := r.run(ctx,
		"-y", "-i", src,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-c:a", PCMCodec,
		"-loglevel", "error",
		dst,
	)
	return err
}

// ConcatPCM losslessly concatenates PCM files that already share the profile.
func (r *Runner) ConcatPCM(ctx context.Context, inputs []string, dst string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("nothing to concatenate")
	}

	listPath := dst + ".list"
	var list strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return fmt.Errorf("failed to resolve input path: %w", err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listPath)

	_, err := r.run(ctx,
		"-y", "-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-loglevel", "error",
		dst,
	)
	return err
}

// GenerateSilence renders a profile-conformant silence file of the given length.
func (r *Runner) GenerateSilence(ctx context.Context, durationMs int64, dst string) error {
	_, err := r.run(ctx,
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=mono", SampleRate),
		"-t", msToSeconds(durationMs),
		"-c:a", PCMCodec,
		"-loglevel", "error",
		dst,
	)
	return err
}

// GenerateRoomTone renders very low-level brown noise used as loop padding,
// so the loop seam does not click against true digital silence.
func (r *Runner) GenerateRoomTone(ctx context.Context, durationMs int64, dst string) error {
	_, err := r.run(ctx,
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anoisesrc=colour=brown:amplitude=0.0004:sample_rate=%d", SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-t", msToSeconds(durationMs),
		"-c:a", PCMCodec,
		"-loglevel", "error",
		dst,
	)
	return err
}

// Encode transcodes final PCM to the delivery codec. faststart moves the
// index ahead of the media data for progressive download.
func (r *Runner) Encode(ctx context.Context, src, dst string, faststart bool) error {
	args := []string{
		"-y", "-i", src,
		"-c:a", DeliveryCodec,
		"-b:a", DeliveryBitrate,
		"-ar", strconv.Itoa(SampleRate),
	}
	if faststart {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-loglevel", "error", dst)
	_, err := r.run(ctx, args...)
	return err
}

func msToSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000.0, 'f', 3, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// WAVDurationMs reads the duration of a PCM WAV file from its header, which
// avoids an ffprobe round trip for files this package produced itself.
func WAVDurationMs(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read wav: %w", err)
	}
	return wavDurationMs(data)
}

func wavDurationMs(data []byte) (int64, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a RIFF/WAVE file")
	}

	// Walk chunks: fmt carries the byte rate, data carries the payload size.
	var byteRate uint32
	var dataSize uint32
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return 0, fmt.Errorf("truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataSize = size
		}
		off = body + int(size)
		if size%2 == 1 {
			off++
		}
	}

	if byteRate == 0 {
		return 0, fmt.Errorf("missing fmt chunk")
	}
	return int64(dataSize) * 1000 / int64(byteRate), nil
}
