package ai

import (
	"context"
	"path"
)

// Avatar animates a face video to speak an audio track.
type Avatar struct {
	gen *GenerationClient
}

func NewAvatar(gen *GenerationClient) *Avatar {
	return &Avatar{gen: gen}
}

// Generate returns where the avatar clip was written. The clip is not
// validated here.
func (a *Avatar) Generate(ctx context.Context, facePath, audioPath, dst string) (Fetch, error) {
	out, err := a.gen.generate(ctx, "avatar", facePath, audioPath)
	if err != nil {
		return Fetch{}, err
	}
	return a.gen.Fetch(ctx, "avatar", path.Base(out.Video), dst)
}
