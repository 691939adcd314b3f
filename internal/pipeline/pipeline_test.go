package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/suPer8Hu/intelliavatar/internal/ai"
	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/job"
	"github.com/suPer8Hu/intelliavatar/internal/slides"
)

type fakeDecks struct {
	deck slides.Deck
	err  error
}

func (f *fakeDecks) Load(ctx context.Context, deckPath, workDir string) (slides.Deck, error) {
	return f.deck, f.err
}

type recordingSpeech struct {
	texts  []string
	voices []string
}

func (s *recordingSpeech) Synthesize(ctx context.Context, text, voice, language string) ([]byte, error) {
	s.texts = append(s.texts, text)
	s.voices = append(s.voices, voice)
	return []byte("wav:" + text), nil
}

type prefixSummarizer struct{}

func (prefixSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if text == "fail me" {
		return "", errors.New("upstream 500")
	}
	return "short " + text, nil
}

type fakeAvatar struct {
	fetch ai.Fetch
	err   error
	audio string
}

func (a *fakeAvatar) Generate(ctx context.Context, facePath, audioPath, dst string) (ai.Fetch, error) {
	a.audio = audioPath
	if a.err != nil {
		return ai.Fetch{}, a.err
	}
	if a.fetch.Path == "" {
		return ai.Fetch{Path: dst}, nil
	}
	return a.fetch, nil
}

type fakeComposer struct {
	duration    float64
	invalid     bool
	clips       []string
	segImages   []string
	segSeconds  []float64
	concatVideo []string
	overlayOut  string
}

func (c *fakeComposer) ValidateVideo(ctx context.Context, path string) error {
	if c.invalid {
		return common.Composition("validate", errors.New("no video stream"))
	}
	return nil
}

func (c *fakeComposer) Duration(ctx context.Context, path string) (float64, error) {
	return c.duration, nil
}

func (c *fakeComposer) ConcatAudio(ctx context.Context, clips []string, out string) error {
	c.clips = append([]string(nil), clips...)
	return nil
}

func (c *fakeComposer) SlideSegment(ctx context.Context, image string, seconds float64, out string) error {
	c.segImages = append(c.segImages, image)
	c.segSeconds = append(c.segSeconds, seconds)
	return nil
}

func (c *fakeComposer) ConcatVideo(ctx context.Context, segments []string, out string) error {
	c.concatVideo = append([]string(nil), segments...)
	return nil
}

func (c *fakeComposer) Overlay(ctx context.Context, slideshow, avatar, out string) error {
	c.overlayOut = out
	return os.WriteFile(out, []byte("final"), 0o644)
}

func narrationJob() *job.Job {
	return &job.Job{
		ID:        "01JOBNARRATION000000000000",
		OwnerID:   7,
		Feature:   job.FeatureSlideNarration,
		InputRefs: []string{"deck.pptx", "face.mp4"},
		Params:    map[string]string{job.ParamGender: "female"},
	}
}

func deckOf(texts ...string) slides.Deck {
	d := slides.Deck{}
	for i, t := range texts {
		d.Slides = append(d.Slides, slides.Slide{Index: i, ImagePath: "slide_" + string(rune('a'+i)) + ".png", Text: t})
	}
	return d
}

func TestNarration_ZeroSlidesFailsFast(t *testing.T) {
	comp := &fakeComposer{duration: 10}
	p := NewNarration(NarrationDeps{
		Decks:   &fakeDecks{deck: slides.Deck{}},
		Speech:  &recordingSpeech{},
		Avatar:  &fakeAvatar{},
		Media:   comp,
		TempDir: t.TempDir(),
	})

	err := p.Run(context.Background(), narrationJob(), filepath.Join(t.TempDir(), "out.mp4"))
	if Stage(err) != StageDecompose {
		t.Fatalf("expected decompose failure, got %v", err)
	}
	var ce *common.CompositionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected composition error, got %v", err)
	}
	if len(comp.segSeconds) != 0 {
		t.Fatalf("no segment should be rendered")
	}
}

func TestNarration_EqualSegmentsInSlideOrder(t *testing.T) {
	speech := &recordingSpeech{}
	comp := &fakeComposer{duration: 12}
	av := &fakeAvatar{}
	p := NewNarration(NarrationDeps{
		Decks:      &fakeDecks{deck: deckOf("Intro", "", "fail me", "Outro")},
		Summarizer: prefixSummarizer{},
		Speech:     speech,
		Avatar:     av,
		Media:      comp,
		TempDir:    t.TempDir(),
	})

	out := filepath.Join(t.TempDir(), "outputs", "job.mp4")
	if err := p.Run(context.Background(), narrationJob(), out); err != nil {
		t.Fatalf("run: %v", err)
	}

	wantTexts := []string{"short Intro", "fail me", "short Outro"}
	if strings.Join(speech.texts, "|") != strings.Join(wantTexts, "|") {
		t.Fatalf("unexpected narration texts %q", speech.texts)
	}
	for _, v := range speech.voices {
		if v != "manisha" {
			t.Fatalf("expected female voice, got %q", v)
		}
	}
	if len(comp.clips) != 3 || !strings.HasSuffix(comp.clips[0], "slide_000.wav") || !strings.HasSuffix(comp.clips[2], "slide_003.wav") {
		t.Fatalf("unexpected clip order %q", comp.clips)
	}
	if !strings.HasSuffix(av.audio, "narration.wav") {
		t.Fatalf("avatar should receive the joined narration, got %q", av.audio)
	}

	if len(comp.segSeconds) != 4 {
		t.Fatalf("expected one segment per slide, got %d", len(comp.segSeconds))
	}
	for i, s := range comp.segSeconds {
		if s != 3 {
			t.Fatalf("segment %d: expected 3s, got %v", i, s)
		}
		if comp.segImages[i] != deckOf("a", "b", "c", "d").Slides[i].ImagePath {
			t.Fatalf("segment %d rendered from %q", i, comp.segImages[i])
		}
	}
	if len(comp.concatVideo) != 4 || !strings.HasSuffix(comp.concatVideo[3], "segment_003.mp4") {
		t.Fatalf("unexpected concat order %q", comp.concatVideo)
	}
	if comp.overlayOut != out {
		t.Fatalf("overlay should write the job output, got %q", comp.overlayOut)
	}
}

func TestNarration_NoSummarizerSpeaksRawText(t *testing.T) {
	speech := &recordingSpeech{}
	var logs bytes.Buffer
	p := NewNarration(NarrationDeps{
		Decks:   &fakeDecks{deck: deckOf("Raw words", "More words", "Last words")},
		Speech:  speech,
		Avatar:  &fakeAvatar{},
		Media:   &fakeComposer{duration: 4},
		TempDir: t.TempDir(),
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	})
	if err := p.Run(context.Background(), narrationJob(), filepath.Join(t.TempDir(), "o.mp4")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(speech.texts) != 3 || speech.texts[0] != "Raw words" {
		t.Fatalf("expected raw text, got %q", speech.texts)
	}
	if strings.Contains(logs.String(), "summary fallback") {
		t.Fatalf("an unconfigured summarizer should not warn per slide:\n%s", logs.String())
	}
}

func TestNarration_SummaryFailureIsWarned(t *testing.T) {
	var logs bytes.Buffer
	p := NewNarration(NarrationDeps{
		Decks:      &fakeDecks{deck: deckOf("fail me", "fine")},
		Summarizer: prefixSummarizer{},
		Speech:     &recordingSpeech{},
		Avatar:     &fakeAvatar{},
		Media:      &fakeComposer{duration: 4},
		TempDir:    t.TempDir(),
		Logger:     slog.New(slog.NewTextHandler(&logs, nil)),
	})
	if err := p.Run(context.Background(), narrationJob(), filepath.Join(t.TempDir(), "o.mp4")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := strings.Count(logs.String(), "summary fallback"); n != 1 {
		t.Fatalf("expected one fallback warning, got %d:\n%s", n, logs.String())
	}
}

func TestNarration_AllSlidesEmpty(t *testing.T) {
	p := NewNarration(NarrationDeps{
		Decks:   &fakeDecks{deck: deckOf("", " ")},
		Speech:  &recordingSpeech{},
		Avatar:  &fakeAvatar{},
		Media:   &fakeComposer{duration: 4},
		TempDir: t.TempDir(),
	})
	err := p.Run(context.Background(), narrationJob(), filepath.Join(t.TempDir(), "o.mp4"))
	if Stage(err) != StageSynthesize {
		t.Fatalf("expected synthesize failure, got %v", err)
	}
}

func TestNarration_InvalidAvatarVideo(t *testing.T) {
	comp := &fakeComposer{duration: 4, invalid: true}
	p := NewNarration(NarrationDeps{
		Decks:   &fakeDecks{deck: deckOf("hello")},
		Speech:  &recordingSpeech{},
		Avatar:  &fakeAvatar{fetch: ai.Fetch{Path: "avatar.mp4", Indirect: true}},
		Media:   comp,
		TempDir: t.TempDir(),
	})
	err := p.Run(context.Background(), narrationJob(), filepath.Join(t.TempDir(), "o.mp4"))
	if Stage(err) != StageAvatar {
		t.Fatalf("expected avatar failure, got %v", err)
	}
	if comp.overlayOut != "" {
		t.Fatalf("composition must not run after a failed validation")
	}
}

func TestNarration_AvatarCollaboratorFailure(t *testing.T) {
	p := NewNarration(NarrationDeps{
		Decks:   &fakeDecks{deck: deckOf("hello")},
		Speech:  &recordingSpeech{},
		Avatar:  &fakeAvatar{err: common.Collaborator("avatar", "generate", errors.New("connection refused"))},
		Media:   &fakeComposer{duration: 4},
		TempDir: t.TempDir(),
	})
	err := p.Run(context.Background(), narrationJob(), filepath.Join(t.TempDir(), "o.mp4"))
	var ce *common.CollaboratorError
	if Stage(err) != StageAvatar || !errors.As(err, &ce) {
		t.Fatalf("expected avatar collaborator failure, got %v", err)
	}
}

func TestNarration_UnknownGender(t *testing.T) {
	j := narrationJob()
	j.Params[job.ParamGender] = "other"
	p := NewNarration(NarrationDeps{Decks: &fakeDecks{deck: deckOf("x")}, TempDir: t.TempDir()})
	if err := p.Run(context.Background(), j, "o.mp4"); !common.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type fakeLipSyncer struct {
	video, audio, dst string
	err               error
}

func (f *fakeLipSyncer) Generate(ctx context.Context, videoPath, audioPath, dst string) error {
	f.video, f.audio, f.dst = videoPath, audioPath, dst
	return f.err
}

func TestLipSync_PassesInputs(t *testing.T) {
	ls := &fakeLipSyncer{}
	j := &job.Job{ID: "x", Feature: job.FeatureLipSync, InputRefs: []string{"v.mp4", "a.wav"}}
	if err := NewLipSync(ls).Run(context.Background(), j, "out.mp4"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ls.video != "v.mp4" || ls.audio != "a.wav" || ls.dst != "out.mp4" {
		t.Fatalf("unexpected call %+v", ls)
	}

	ls.err = errors.New("gpu down")
	if err := NewLipSync(ls).Run(context.Background(), j, "out.mp4"); Stage(err) != "lipsync" {
		t.Fatalf("expected lipsync stage error, got %v", err)
	}
}

func TestLipSync_MissingAudio(t *testing.T) {
	j := &job.Job{ID: "x", Feature: job.FeatureLipSync, InputRefs: []string{"v.mp4"}}
	if err := NewLipSync(&fakeLipSyncer{}).Run(context.Background(), j, "out.mp4"); !common.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegistry_UnknownFeature(t *testing.T) {
	r := NewRegistry()
	r.Register(job.FeatureLipSync, NewLipSync(&fakeLipSyncer{}))
	if _, err := r.Lookup(job.FeatureLipSync); err != nil {
		t.Fatalf("lookup lip sync: %v", err)
	}
	if _, err := r.Lookup(job.FeatureTextToAvatar); !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
}
