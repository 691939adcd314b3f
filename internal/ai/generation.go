package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/suPer8Hu/intelliavatar/internal/common"
)

// GenerationClient talks to the GPU model server (multipart /generate) and
// to the file server that hosts its outputs (/get_file).
type GenerationClient struct {
	BaseURL       string
	FileServerURL string
	Client        *http.Client
	Download      *http.Client
}

func NewGenerationClient(baseURL, fileServerURL string, generateTimeout, downloadTimeout time.Duration) *GenerationClient {
	if generateTimeout <= 0 {
		generateTimeout = 30 * time.Minute
	}
	if downloadTimeout <= 0 {
		downloadTimeout = 5 * time.Minute
	}
	return &GenerationClient{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		FileServerURL: strings.TrimRight(fileServerURL, "/"),
		Client:        &http.Client{Timeout: generateTimeout},
		Download:      &http.Client{Timeout: downloadTimeout},
	}
}

type generateResp struct {
	Status string `json:"status"`
	Video  string `json:"video"`
}

// generate uploads a face/media video and an audio track and returns the
// decoded reply.
func (c *GenerationClient) generate(ctx context.Context, service, mediaPath, audioPath string) (generateResp, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeFormFile(mw, "media", mediaPath, "video/mp4")
		if err == nil {
			err = writeFormFile(mw, "audio", audioPath, "audio/wav")
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/generate", pr)
	if err != nil {
		_ = pr.Close()
		return generateResp{}, common.Collaborator(service, "generate", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return generateResp{}, common.Collaborator(service, "generate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return generateResp{}, &common.CollaboratorError{
			Service:    service,
			Op:         "generate",
			StatusCode: resp.StatusCode,
			Err:        errors.New(readSnippet(resp.Body)),
		}
	}

	var decoded generateResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return generateResp{}, common.Collaborator(service, "generate", fmt.Errorf("malformed payload: %w", err))
	}
	if strings.TrimSpace(decoded.Video) == "" {
		return generateResp{}, common.Collaborator(service, "generate", errors.New("reply has no video"))
	}
	return decoded, nil
}

func writeFormFile(mw *multipart.Writer, field, p, contentType string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filepath.Base(p))}
	h["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Fetch is the outcome of downloading a generated file. Indirect is set when
// the file server answered with a JSON pointer that had to be followed.
type Fetch struct {
	Path     string
	Indirect bool
}

type indirection struct {
	File     string `json:"file"`
	Filename string `json:"filename"`
}

// Fetch downloads filename from the file server into dst. The server either
// streams the video directly or replies with a JSON document naming the file
// to fetch instead.
func (c *GenerationClient) Fetch(ctx context.Context, service, filename, dst string) (Fetch, error) {
	resp, err := c.get(ctx, filename)
	if err != nil {
		return Fetch{}, common.Collaborator(service, "download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Fetch{}, &common.CollaboratorError{
			Service: service, Op: "download", StatusCode: resp.StatusCode,
			Err: errors.New(readSnippet(resp.Body)),
		}
	}

	switch mediaType(resp) {
	case "application/json":
		var ptr indirection
		if err := json.NewDecoder(resp.Body).Decode(&ptr); err != nil {
			return Fetch{}, common.Collaborator(service, "download", fmt.Errorf("malformed indirection: %w", err))
		}
		next := ptr.File
		if next == "" {
			next = ptr.Filename
		}
		if next == "" {
			return Fetch{}, common.Collaborator(service, "download", errors.New("indirection has no filename"))
		}

		resp2, err := c.get(ctx, path.Base(next))
		if err != nil {
			return Fetch{}, common.Collaborator(service, "download", err)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			return Fetch{}, &common.CollaboratorError{
				Service: service, Op: "download", StatusCode: resp2.StatusCode,
				Err: errors.New(readSnippet(resp2.Body)),
			}
		}
		if mt := mediaType(resp2); !isVideo(mt) {
			return Fetch{}, common.Collaborator(service, "download", fmt.Errorf("final download is not a video, content-type=%s", mt))
		}
		if err := writeFile(dst, resp2.Body); err != nil {
			return Fetch{}, common.Collaborator(service, "download", err)
		}
		return Fetch{Path: dst, Indirect: true}, nil

	default:
		if mt := mediaType(resp); !isVideo(mt) {
			return Fetch{}, common.Collaborator(service, "download", fmt.Errorf("unsupported download response, content-type=%s", mt))
		}
		if err := writeFile(dst, resp.Body); err != nil {
			return Fetch{}, common.Collaborator(service, "download", err)
		}
		return Fetch{Path: dst}, nil
	}
}

func (c *GenerationClient) get(ctx context.Context, filename string) (*http.Response, error) {
	u := c.FileServerURL + "/get_file?" + url.Values{"filename": {filename}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.Download.Do(req)
}

func mediaType(resp *http.Response) string {
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return strings.ToLower(resp.Header.Get("Content-Type"))
	}
	return strings.ToLower(mt)
}

// The file server labels mp4 downloads either as video/* or as a bare octet stream.
func isVideo(mt string) bool {
	return strings.HasPrefix(mt, "video/") || mt == "application/octet-stream"
}

func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func readSnippet(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4*1024))
	return strings.TrimSpace(string(body))
}
