package slides

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Slide is one rendered page and the text that was on it.
type Slide struct {
	Index     int
	ImagePath string
	Text      string
}

type Deck struct {
	Slides []Slide
}

// Loader extracts slide text and renders slide images from a .pptx deck.
type Loader struct {
	renderer *Renderer
	pages    func(pdf string) (int, error)
}

func NewLoader(renderer *Renderer) *Loader {
	return &Loader{renderer: renderer, pages: PageCount}
}

// Load parses deckPath into workDir. The rendered pages decide the number of
// slides; text entries beyond that are dropped and missing ones are blank.
func (l *Loader) Load(ctx context.Context, deckPath, workDir string) (Deck, error) {
	if !strings.EqualFold(filepath.Ext(deckPath), ".pptx") {
		return Deck{}, fmt.Errorf("unsupported deck format %q", filepath.Ext(deckPath))
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Deck{}, err
	}

	texts, err := ExtractTexts(deckPath)
	if err != nil {
		return Deck{}, err
	}

	pdf, err := l.renderer.ToPDF(ctx, deckPath, workDir)
	if err != nil {
		return Deck{}, err
	}
	n, err := l.pages(pdf)
	if err != nil {
		return Deck{}, err
	}
	images, err := l.renderer.RenderPages(ctx, pdf, workDir, n)
	if err != nil {
		return Deck{}, err
	}

	d := Deck{Slides: make([]Slide, len(images))}
	for i, img := range images {
		d.Slides[i] = Slide{Index: i, ImagePath: img}
		if i < len(texts) {
			d.Slides[i].Text = texts[i]
		}
	}
	return d, nil
}
