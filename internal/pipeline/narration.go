package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/suPer8Hu/intelliavatar/internal/ai"
	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/job"
	"github.com/suPer8Hu/intelliavatar/internal/media"
	"github.com/suPer8Hu/intelliavatar/internal/slides"
)

const (
	StageDecompose  = "decompose"
	StageSummarize  = "summarize"
	StageSynthesize = "synthesize"
	StageAvatar     = "avatar"
	StageCompose    = "compose"
)

type DeckLoader interface {
	Load(ctx context.Context, deckPath, workDir string) (slides.Deck, error)
}

type AvatarGenerator interface {
	Generate(ctx context.Context, facePath, audioPath, dst string) (ai.Fetch, error)
}

// Composer is the media toolkit the narration pipeline needs.
type Composer interface {
	ValidateVideo(ctx context.Context, path string) error
	Duration(ctx context.Context, path string) (float64, error)
	ConcatAudio(ctx context.Context, clips []string, out string) error
	SlideSegment(ctx context.Context, image string, seconds float64, out string) error
	ConcatVideo(ctx context.Context, segments []string, out string) error
	Overlay(ctx context.Context, slideshow, avatar, out string) error
}

// Narration turns a slide deck and a face video into a narrated slideshow
// with the talking avatar in the bottom-right corner.
//
// InputRefs = [deck.pptx, face video]. Params: gender (default male),
// language (default en).
type Narration struct {
	decks      DeckLoader
	summarizer ai.Summarizer
	speech     ai.Speech
	avatar     AvatarGenerator
	media      Composer
	tempDir    string
	logger     *slog.Logger
}

type NarrationDeps struct {
	Decks      DeckLoader
	Summarizer ai.Summarizer // nil means raw slide text is spoken
	Speech     ai.Speech
	Avatar     AvatarGenerator
	Media      Composer
	TempDir    string
	Logger     *slog.Logger
}

func NewNarration(d NarrationDeps) *Narration {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Narration{
		decks:      d.Decks,
		summarizer: d.Summarizer,
		speech:     d.Speech,
		avatar:     d.Avatar,
		media:      d.Media,
		tempDir:    d.TempDir,
		logger:     logger,
	}
}

func (p *Narration) Run(ctx context.Context, j *job.Job, outPath string) error {
	if len(j.InputRefs) < 2 {
		return stageErr("inputs", common.Invalid("input_refs", "slide narration needs a deck and a face video"))
	}
	deckPath, facePath := j.InputRefs[0], j.InputRefs[1]
	log := p.logger.With("job_id", j.ID, "feature", j.Feature)

	voice, err := ai.VoiceForGender(j.Param(job.ParamGender, "male"))
	if err != nil {
		return stageErr("inputs", err)
	}
	language := j.Param(job.ParamLanguage, "en")

	work, err := os.MkdirTemp(p.tempDir, "narration-"+j.ID+"-")
	if err != nil {
		return stageErr(StageDecompose, err)
	}
	defer os.RemoveAll(work)

	// 1. slides and their text
	deck, err := p.decks.Load(ctx, deckPath, filepath.Join(work, "deck"))
	if err != nil {
		return stageErr(StageDecompose, err)
	}
	if len(deck.Slides) == 0 {
		return stageErr(StageDecompose, common.Composition(StageDecompose, errors.New("deck has no slides")))
	}
	log.Info("deck decomposed", "slides", len(deck.Slides))

	// 2. best-effort summaries
	texts := make([]string, len(deck.Slides))
	unconfigured := false
	for i, s := range deck.Slides {
		n := ai.Narrate(ctx, p.summarizer, s.Text)
		switch {
		case n.Fallback == nil:
		case errors.Is(n.Fallback, ai.ErrNoCredentials):
			unconfigured = true
		default:
			log.Warn("summary fallback, using slide text", "stage", StageSummarize, "slide", i, "err", n.Fallback)
		}
		texts[i] = n.Text
	}
	if unconfigured {
		log.Debug("no summarizer configured, narrating slide text", "stage", StageSummarize)
	}

	// 3. narration track
	narration, duration, err := p.synthesize(ctx, texts, voice, language, filepath.Join(work, "audio"))
	if err != nil {
		return stageErr(StageSynthesize, err)
	}
	log.Info("narration synthesized", "duration_s", duration)

	// 4. talking avatar
	fetched, err := p.avatar.Generate(ctx, facePath, narration, filepath.Join(work, "avatar.mp4"))
	if err != nil {
		return stageErr(StageAvatar, err)
	}
	if fetched.Indirect {
		log.Info("avatar fetched through indirection", "stage", StageAvatar)
	}
	if err := p.media.ValidateVideo(ctx, fetched.Path); err != nil {
		return stageErr(StageAvatar, err)
	}

	// 5. slideshow + picture-in-picture
	if err := p.compose(ctx, deck, duration, fetched.Path, filepath.Join(work, "video"), outPath); err != nil {
		return stageErr(StageCompose, err)
	}
	return nil
}

// synthesize speaks every non-empty slide text and joins the clips in slide
// order. It returns the joined track and its length in seconds.
func (p *Narration) synthesize(ctx context.Context, texts []string, voice, language, dir string) (string, float64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}

	var clips []string
	for i, text := range texts {
		if text == "" {
			continue
		}
		audio, err := p.speech.Synthesize(ctx, text, voice, language)
		if err != nil {
			return "", 0, fmt.Errorf("slide %d: %w", i, err)
		}
		clip := filepath.Join(dir, fmt.Sprintf("slide_%03d.wav", i))
		if err := os.WriteFile(clip, audio, 0o644); err != nil {
			return "", 0, err
		}
		clips = append(clips, clip)
	}
	if len(clips) == 0 {
		return "", 0, common.Composition("narration", errors.New("no slide has text to narrate"))
	}

	track := filepath.Join(dir, "narration.wav")
	if err := p.media.ConcatAudio(ctx, clips, track); err != nil {
		return "", 0, err
	}
	d, err := p.media.Duration(ctx, track)
	if err != nil {
		return "", 0, err
	}
	return track, d, nil
}

func (p *Narration) compose(ctx context.Context, deck slides.Deck, duration float64, avatar, dir, outPath string) error {
	durations, err := media.SegmentDurations(duration, len(deck.Slides))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	segments := make([]string, len(deck.Slides))
	for i, s := range deck.Slides {
		segments[i] = filepath.Join(dir, fmt.Sprintf("segment_%03d.mp4", i))
		if err := p.media.SlideSegment(ctx, s.ImagePath, durations[i], segments[i]); err != nil {
			return err
		}
	}

	slideshow := filepath.Join(dir, "slideshow.mp4")
	if err := p.media.ConcatVideo(ctx, segments, slideshow); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return p.media.Overlay(ctx, slideshow, avatar, outPath)
}
