package gateway

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/intelliavatar/internal/ai"
	"github.com/suPer8Hu/intelliavatar/internal/chain"
	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/job"
)

const (
	namePlaceholder = "{name}"
	maxWishNames    = 50
	maxTextLen      = 5000
)

type LipSyncRequest struct {
	Video Artifact
	Audio Artifact
}

// SubmitLipSync queues a lip-sync job for a video and an audio track.
func (g *Gateway) SubmitLipSync(ctx context.Context, c Caller, req LipSyncRequest) (Receipt, error) {
	if err := requireVideo("video", req.Video); err != nil {
		return Receipt{}, err
	}
	if err := requireAudio("audio", req.Audio); err != nil {
		return Receipt{}, err
	}
	if err := g.admit(ctx, c, job.FeatureLipSync); err != nil {
		return Receipt{}, err
	}

	id, err := g.newID()
	if err != nil {
		return Receipt{}, err
	}
	video, err := g.save(id, "video", req.Video)
	if err != nil {
		return Receipt{}, err
	}
	audio, err := g.save(id, "audio", req.Audio)
	if err != nil {
		return Receipt{}, err
	}
	return g.insert(ctx, &job.Job{
		ID:        id,
		OwnerID:   c.OwnerID,
		Feature:   job.FeatureLipSync,
		InputRefs: []string{video, audio},
	})
}

// HandleChained admits a chained lip-sync task. The task's owner was resolved
// by the originating request, so neither auth nor quota applies.
func (g *Gateway) HandleChained(ctx context.Context, t chain.Task) error {
	if t.Feature != job.FeatureLipSync {
		return fmt.Errorf("chain: unsupported feature %q", t.Feature)
	}
	if t.JobID == "" || len(t.InputRefs) < 2 {
		return common.Invalid("task", "job id and two input references are required")
	}
	_, err := g.insert(ctx, &job.Job{
		ID:        t.JobID,
		OwnerID:   t.OwnerID,
		Feature:   t.Feature,
		InputRefs: t.InputRefs,
		Params:    t.Params,
	})
	return err
}

type TextToAvatarRequest struct {
	Text     string
	Gender   string
	Language string
	Video    Artifact
}

// SubmitTextToAvatar speaks Text with the voice for Gender and chains a
// lip-sync job of Video against that speech. The receipt names the chained
// job id; the chained insert is best effort.
func (g *Gateway) SubmitTextToAvatar(ctx context.Context, c Caller, req TextToAvatarRequest) (Receipt, error) {
	text := strings.TrimSpace(req.Text)
	if err := validateText("text", text); err != nil {
		return Receipt{}, err
	}
	voice, err := ai.VoiceForGender(req.Gender)
	if err != nil {
		return Receipt{}, err
	}
	if err := requireVideo("video", req.Video); err != nil {
		return Receipt{}, err
	}
	if err := g.admit(ctx, c, job.FeatureTextToAvatar); err != nil {
		return Receipt{}, err
	}

	id, err := g.newID()
	if err != nil {
		return Receipt{}, err
	}
	video, err := g.save(id, "video", req.Video)
	if err != nil {
		return Receipt{}, err
	}
	audio, err := g.synthesize(ctx, id, text, voice, g.lang(req.Language))
	if err != nil {
		return Receipt{}, err
	}

	g.dispatch(chain.Task{
		JobID:     id,
		OwnerID:   c.OwnerID,
		Feature:   job.FeatureLipSync,
		InputRefs: []string{video, audio},
		Params:    map[string]string{job.ParamOrigin: string(job.FeatureTextToAvatar)},
	})
	return Receipt{JobID: id, Status: job.StatusQueued}, nil
}

type WishesRequest struct {
	Script   string
	Names    []string
	Language string
	Video    Artifact
}

// SubmitWishes renders Script once per name with a female voice and chains
// one lip-sync job per name. One quota attempt covers the whole batch.
func (g *Gateway) SubmitWishes(ctx context.Context, c Caller, req WishesRequest) (BatchReceipt, error) {
	script := strings.TrimSpace(req.Script)
	if err := validateText("script", script); err != nil {
		return BatchReceipt{}, err
	}
	if !strings.Contains(script, namePlaceholder) {
		return BatchReceipt{}, common.Invalid("script", "must contain the {name} placeholder")
	}
	names := cleanNames(req.Names)
	if len(names) == 0 {
		return BatchReceipt{}, common.Invalid("names", "at least one name is required")
	}
	if len(names) > maxWishNames {
		return BatchReceipt{}, common.Invalid("names", fmt.Sprintf("at most %d names per batch", maxWishNames))
	}
	if err := requireVideo("video", req.Video); err != nil {
		return BatchReceipt{}, err
	}
	if err := g.admit(ctx, c, job.FeaturePersonalizedWishes); err != nil {
		return BatchReceipt{}, err
	}

	batchID, err := g.newID()
	if err != nil {
		return BatchReceipt{}, err
	}
	video, err := g.save(batchID, "video", req.Video)
	if err != nil {
		return BatchReceipt{}, err
	}

	voice, _ := ai.VoiceForGender("female")
	lang := g.lang(req.Language)

	tasks := make([]chain.Task, 0, len(names))
	for _, name := range names {
		id, err := g.newID()
		if err != nil {
			return BatchReceipt{}, err
		}
		text := strings.ReplaceAll(script, namePlaceholder, name)
		audio, err := g.synthesize(ctx, id, text, voice, lang)
		if err != nil {
			return BatchReceipt{}, fmt.Errorf("wish for %q: %w", name, err)
		}
		tasks = append(tasks, chain.Task{
			JobID:     id,
			OwnerID:   c.OwnerID,
			Feature:   job.FeatureLipSync,
			InputRefs: []string{video, audio},
			Params:    map[string]string{job.ParamOrigin: string(job.FeaturePersonalizedWishes)},
		})
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		g.dispatch(t)
		ids[i] = t.JobID
	}
	return BatchReceipt{Status: job.StatusQueued, JobIDs: ids}, nil
}

type SlideNarrationRequest struct {
	Deck      Artifact
	FaceVideo Artifact
	Language  string
	Gender    string
}

// SubmitSlideNarration queues a narrated slideshow job for a .pptx deck.
func (g *Gateway) SubmitSlideNarration(ctx context.Context, c Caller, req SlideNarrationRequest) (Receipt, error) {
	if !req.Deck.present() {
		return Receipt{}, common.Invalid("ppt", "file is required")
	}
	if req.Deck.ext() != ".pptx" {
		return Receipt{}, common.Invalid("ppt", "only .pptx decks are supported")
	}
	if err := requireVideo("face_video", req.FaceVideo); err != nil {
		return Receipt{}, err
	}
	gender := strings.ToLower(strings.TrimSpace(req.Gender))
	if gender == "" {
		gender = "male"
	}
	if _, err := ai.VoiceForGender(gender); err != nil {
		return Receipt{}, err
	}
	if err := g.admit(ctx, c, job.FeatureSlideNarration); err != nil {
		return Receipt{}, err
	}

	id, err := g.newID()
	if err != nil {
		return Receipt{}, err
	}
	deck, err := g.save(id, "deck", req.Deck)
	if err != nil {
		return Receipt{}, err
	}
	face, err := g.save(id, "face", req.FaceVideo)
	if err != nil {
		return Receipt{}, err
	}
	return g.insert(ctx, &job.Job{
		ID:        id,
		OwnerID:   c.OwnerID,
		Feature:   job.FeatureSlideNarration,
		InputRefs: []string{deck, face},
		Params: map[string]string{
			job.ParamGender:   gender,
			job.ParamLanguage: g.lang(req.Language),
		},
	})
}

func (g *Gateway) synthesize(ctx context.Context, id, text, voice, lang string) (string, error) {
	audio, err := g.speech.Synthesize(ctx, text, voice, lang)
	if err != nil {
		return "", err
	}
	ref, err := g.files.Save(id, "speech.wav", bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("store speech: %w", err)
	}
	return ref, nil
}

func (g *Gateway) lang(requested string) string {
	if l := strings.TrimSpace(requested); l != "" {
		return l
	}
	return g.language
}

func validateText(field, text string) error {
	if text == "" {
		return common.Invalid(field, "must not be empty")
	}
	if len([]rune(text)) > maxTextLen {
		return common.Invalid(field, fmt.Sprintf("must be at most %d characters", maxTextLen))
	}
	return nil
}

func cleanNames(in []string) []string {
	var out []string
	for _, raw := range in {
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				out = append(out, n)
			}
		}
	}
	return out
}
