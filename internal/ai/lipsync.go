package ai

import (
	"context"
	"fmt"
	"path"

	"github.com/suPer8Hu/intelliavatar/internal/common"
)

// LipSync re-times a video's mouth to an audio track on the GPU server.
type LipSync struct {
	gen *GenerationClient
}

func NewLipSync(gen *GenerationClient) *LipSync {
	return &LipSync{gen: gen}
}

// Generate uploads video and audio, then downloads the result to dst.
func (l *LipSync) Generate(ctx context.Context, videoPath, audioPath, dst string) error {
	out, err := l.gen.generate(ctx, "lipsync", videoPath, audioPath)
	if err != nil {
		return err
	}
	if out.Status != "success" {
		return common.Collaborator("lipsync", "generate", fmt.Errorf("status %q", out.Status))
	}
	_, err = l.gen.Fetch(ctx, "lipsync", path.Base(out.Video), dst)
	return err
}
