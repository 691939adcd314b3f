package pipeline

import (
	"context"

	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/job"
)

type LipSyncer interface {
	Generate(ctx context.Context, videoPath, audioPath, dst string) error
}

// LipSync expects InputRefs = [video, audio].
type LipSync struct {
	client LipSyncer
}

func NewLipSync(client LipSyncer) *LipSync {
	return &LipSync{client: client}
}

func (p *LipSync) Run(ctx context.Context, j *job.Job, outPath string) error {
	if len(j.InputRefs) < 2 {
		return stageErr("inputs", common.Invalid("input_refs", "lip sync needs a video and an audio reference"))
	}
	return stageErr("lipsync", p.client.Generate(ctx, j.InputRefs[0], j.InputRefs[1], outPath))
}
