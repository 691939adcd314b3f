package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suPer8Hu/intelliavatar/internal/common"
)

const (
	FrameWidth  = 1280
	FrameHeight = 720
	AvatarWidth = 300
	AvatarInset = 20
)

// Toolkit wraps the ffmpeg/ffprobe invocations used for composition.
type Toolkit struct {
	ffmpeg  string
	ffprobe string
	runner  Runner
}

func NewToolkit(ffmpegPath, ffprobePath string, runner Runner) *Toolkit {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Toolkit{ffmpeg: ffmpegPath, ffprobe: ffprobePath, runner: runner}
}

func (t *Toolkit) run(ctx context.Context, step, name string, args ...string) (Result, error) {
	res, err := t.runner.Run(ctx, name, args...)
	if err != nil {
		if tail := res.Tail(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		return res, common.Composition(step, err)
	}
	return res, nil
}

// ValidateVideo checks that path exists, is non-empty and has a video stream.
func (t *Toolkit) ValidateVideo(ctx context.Context, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return common.Composition("validate", err)
	}
	if fi.Size() == 0 {
		return common.Composition("validate", fmt.Errorf("%s is empty", filepath.Base(path)))
	}
	res, err := t.run(ctx, "validate", t.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return err
	}
	if !strings.Contains(res.Stdout, "video") {
		return common.Composition("validate", fmt.Errorf("%s has no video stream", filepath.Base(path)))
	}
	return nil
}

// Duration reports a media file's length in seconds.
func (t *Toolkit) Duration(ctx context.Context, path string) (float64, error) {
	res, err := t.run(ctx, "probe duration", t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, common.Composition("probe duration", err)
	}
	if d <= 0 {
		return 0, common.Composition("probe duration", errors.New("duration is not positive"))
	}
	return d, nil
}

// ConcatAudio joins clips in order into out without re-encoding.
func (t *Toolkit) ConcatAudio(ctx context.Context, clips []string, out string) error {
	return t.concat(ctx, "concat audio", clips, out)
}

// ConcatVideo joins segments in order into out without re-encoding.
func (t *Toolkit) ConcatVideo(ctx context.Context, segments []string, out string) error {
	return t.concat(ctx, "concat video", segments, out)
}

func (t *Toolkit) concat(ctx context.Context, step string, parts []string, out string) error {
	if len(parts) == 0 {
		return common.Composition(step, errors.New("nothing to concatenate"))
	}
	list := out + ".txt"
	if err := os.WriteFile(list, []byte(concatList(parts)), 0o644); err != nil {
		return common.Composition(step, err)
	}
	defer os.Remove(list)

	_, err := t.run(ctx, step, t.ffmpeg, buildConcatArgs(list, out)...)
	return err
}

// SlideSegment renders a still image as a fixed-length 1280x720 clip.
func (t *Toolkit) SlideSegment(ctx context.Context, image string, seconds float64, out string) error {
	_, err := t.run(ctx, "slide segment", t.ffmpeg, buildSegmentArgs(image, seconds, out)...)
	return err
}

// Overlay places the avatar clip bottom-right over the slideshow and takes
// audio from the avatar.
func (t *Toolkit) Overlay(ctx context.Context, slideshow, avatar, out string) error {
	_, err := t.run(ctx, "overlay", t.ffmpeg, buildOverlayArgs(slideshow, avatar, out)...)
	return err
}

// SegmentDurations splits total seconds evenly across n slides.
func SegmentDurations(total float64, n int) ([]float64, error) {
	if n <= 0 {
		return nil, common.Composition("segment durations", errors.New("no slides to compose"))
	}
	if total <= 0 {
		return nil, common.Composition("segment durations", errors.New("avatar duration is not positive"))
	}
	per := total / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = per
	}
	return out, nil
}

func concatList(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(filepath.ToSlash(abs), "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

func buildConcatArgs(list, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-c", "copy",
		out,
	}
}

func buildSegmentArgs(image string, seconds float64, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-loop", "1",
		"-i", image,
		"-t", strconv.FormatFloat(seconds, 'f', 3, 64),
		"-vf", fmt.Sprintf("scale=%d:%d", FrameWidth, FrameHeight),
		"-r", "25",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		out,
	}
}

func buildOverlayArgs(slideshow, avatar, out string) []string {
	filter := fmt.Sprintf("[1:v]scale=%d:-1[av];[0:v][av]overlay=W-w-%d:H-h-%d[outv]", AvatarWidth, AvatarInset, AvatarInset)
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", slideshow,
		"-i", avatar,
		"-filter_complex", filter,
		"-map", "[outv]",
		"-map", "1:a?",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		out,
	}
}
