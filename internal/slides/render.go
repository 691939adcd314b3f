package slides

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/suPer8Hu/intelliavatar/internal/media"
)

const (
	// RenderDPI is twice the PDF's native 72 dpi.
	RenderDPI = 144

	convertTimeout = 120 * time.Second
)

// Renderer turns a deck into a PDF with soffice and rasterizes each page
// with pdftoppm.
type Renderer struct {
	soffice  string
	pdftoppm string
	runner   media.Runner
	width    int
	height   int
}

func NewRenderer(sofficePath, pdftoppmPath string, runner media.Runner) *Renderer {
	if sofficePath == "" {
		sofficePath = "soffice"
	}
	if pdftoppmPath == "" {
		pdftoppmPath = "pdftoppm"
	}
	if runner == nil {
		runner = media.ExecRunner{}
	}
	return &Renderer{
		soffice:  sofficePath,
		pdftoppm: pdftoppmPath,
		runner:   runner,
		width:    media.FrameWidth,
		height:   media.FrameHeight,
	}
}

// ToPDF converts deck into outDir and returns the PDF path.
func (r *Renderer) ToPDF(ctx context.Context, deck, outDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	res, err := r.runner.Run(ctx, r.soffice, "--headless", "--convert-to", "pdf", "--outdir", outDir, deck)
	if err != nil {
		return "", fmt.Errorf("soffice convert: %w: %s", err, res.Tail())
	}

	base := strings.TrimSuffix(filepath.Base(deck), filepath.Ext(deck))
	pdf := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(pdf); err != nil {
		return "", fmt.Errorf("soffice produced no pdf: %w", err)
	}
	return pdf, nil
}

// PageCount reads the number of pages in a PDF.
func PageCount(pdf string) (int, error) {
	n, err := api.PageCountFile(pdf)
	if err != nil {
		return 0, fmt.Errorf("pdf page count: %w", err)
	}
	return n, nil
}

// RenderPages writes slide_<i>.png for each of the pdf's pages, letterboxed
// to the output frame, and returns their paths in page order.
func (r *Renderer) RenderPages(ctx context.Context, pdf, outDir string, pages int) ([]string, error) {
	out := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		prefix := filepath.Join(outDir, "slide_"+strconv.Itoa(i-1))
		n := strconv.Itoa(i)
		res, err := r.runner.Run(ctx, r.pdftoppm,
			"-png",
			"-r", strconv.Itoa(RenderDPI),
			"-f", n,
			"-l", n,
			"-singlefile",
			pdf, prefix,
		)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w: %s", i, err, res.Tail())
		}
		img := prefix + ".png"
		if err := r.fitFrame(img); err != nil {
			return nil, fmt.Errorf("render page %d: %w", i, err)
		}
		out = append(out, img)
	}
	return out, nil
}

// fitFrame scales the page to fit the frame and centers it on black.
func (r *Renderer) fitFrame(path string) error {
	src, err := imaging.Open(path)
	if err != nil {
		return err
	}
	fitted := imaging.Fit(src, r.width, r.height, imaging.Lanczos)
	canvas := imaging.New(r.width, r.height, color.Black)
	return imaging.Save(imaging.PasteCenter(canvas, fitted), path)
}
