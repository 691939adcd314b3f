package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/suPer8Hu/intelliavatar/internal/common"
)

type stubSummarizer struct {
	reply string
	err   error
	calls int
}

func (s *stubSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	_ = ctx
	s.calls++
	return s.reply, s.err
}

func TestNarrate_FallsBackToRawText(t *testing.T) {
	cases := []struct {
		name string
		s    Summarizer
	}{
		{"no summarizer", nil},
		{"error", &stubSummarizer{err: errors.New("boom")}},
		{"blank reply", &stubSummarizer{reply: "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := Narrate(context.Background(), tc.s, "  Quarterly revenue grew  ")
			if n.Text != "Quarterly revenue grew" {
				t.Fatalf("unexpected text: %q", n.Text)
			}
			if n.Summarized {
				t.Fatalf("expected raw passthrough")
			}
			if n.Fallback == nil {
				t.Fatalf("expected fallback reason")
			}
		})
	}
}

func TestNarrate_BlankInputSkipsCall(t *testing.T) {
	s := &stubSummarizer{reply: "x"}
	n := Narrate(context.Background(), s, " \n ")
	if n.Text != "" || s.calls != 0 {
		t.Fatalf("expected no call for blank text, got text=%q calls=%d", n.Text, s.calls)
	}
}

func TestChatSummarizer_SendsPromptAndParsesReply(t *testing.T) {
	var got chatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Revenue grew."}}]}`)
	}))
	defer srv.Close()

	s := NewChatSummarizer(srv.URL, "k", "")
	out, err := s.Summarize(context.Background(), "Revenue grew 10% in Q3")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if out != "Revenue grew." {
		t.Fatalf("unexpected reply %q", out)
	}
	if got.Model != DefaultGroqModel || got.MaxTokens != 200 || got.Temperature != 0.3 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Content != SummaryPrompt {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestChatSummarizer_MissingKey(t *testing.T) {
	s := NewChatSummarizer("http://127.0.0.1:1", "", "")
	if _, err := s.Summarize(context.Background(), "x"); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestChatSummarizer_NonOKIsCollaboratorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewChatSummarizer(srv.URL, "k", "").Summarize(context.Background(), "x")
	var ce *common.CollaboratorError
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected collaborator error with 429, got %v", err)
	}
}

func TestVoiceForGender(t *testing.T) {
	if v, _ := VoiceForGender("Male"); v != "hitesh" {
		t.Fatalf("male voice = %q", v)
	}
	if v, _ := VoiceForGender("female"); v != "manisha" {
		t.Fatalf("female voice = %q", v)
	}
	if _, err := VoiceForGender("robot"); !common.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLanguageCode(t *testing.T) {
	for in, want := range map[string]string{"": "en-IN", "en": "en-IN", "HI": "hi-IN", "ta-IN": "ta-IN"} {
		if got := LanguageCode(in); got != want {
			t.Fatalf("LanguageCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSarvamTTS_DecodesFirstAudio(t *testing.T) {
	wav := []byte("RIFF....WAVEfmt ")
	var got ttsReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-subscription-key") != "secret" {
			t.Errorf("missing subscription key")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(ttsResp{Audios: []string{base64.StdEncoding.EncodeToString(wav)}})
	}))
	defer srv.Close()

	audio, err := NewSarvamTTS(srv.URL, "secret").Synthesize(context.Background(), "Hello", "manisha", "en")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != string(wav) {
		t.Fatalf("unexpected audio bytes")
	}
	if got.Speaker != "manisha" || got.TargetLanguageCode != "en-IN" || len(got.Inputs) != 1 || got.Inputs[0] != "Hello" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestSarvamTTS_EmptyAudios(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"audios":[]}`)
	}))
	defer srv.Close()

	_, err := NewSarvamTTS(srv.URL, "secret").Synthesize(context.Background(), "Hello", "hitesh", "en")
	var ce *common.CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

// fakeGPU serves /generate and /get_file like the model and file servers.
func fakeGPU(t *testing.T, status string, indirect bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("media"); err != nil {
			t.Errorf("missing media part: %v", err)
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("missing audio part: %v", err)
		}
		_ = json.NewEncoder(w).Encode(generateResp{Status: status, Video: "/srv/results/out_1.mp4"})
	})
	mux.HandleFunc("/get_file", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("filename")
		if indirect && name == "out_1.mp4" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"file":"/srv/final/real.mp4"}`)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = io.WriteString(w, "video:"+name)
	})
	return httptest.NewServer(mux)
}

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	v := filepath.Join(dir, "in.mp4")
	a := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(v, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return v, a
}

func TestLipSync_DownloadsResult(t *testing.T) {
	srv := fakeGPU(t, "success", false)
	defer srv.Close()

	v, a := writeInputs(t)
	dst := filepath.Join(t.TempDir(), "out", "job.mp4")
	ls := NewLipSync(NewGenerationClient(srv.URL, srv.URL, 0, 0))
	if err := ls.Generate(context.Background(), v, a, dst); err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(b) != "video:out_1.mp4" {
		t.Fatalf("unexpected output %q", b)
	}
}

func TestLipSync_NonSuccessStatus(t *testing.T) {
	srv := fakeGPU(t, "error", false)
	defer srv.Close()

	v, a := writeInputs(t)
	ls := NewLipSync(NewGenerationClient(srv.URL, srv.URL, 0, 0))
	err := ls.Generate(context.Background(), v, a, filepath.Join(t.TempDir(), "o.mp4"))
	var ce *common.CollaboratorError
	if !errors.As(err, &ce) || ce.Service != "lipsync" {
		t.Fatalf("expected lipsync collaborator error, got %v", err)
	}
}

func TestAvatar_FollowsIndirection(t *testing.T) {
	srv := fakeGPU(t, "success", true)
	defer srv.Close()

	v, a := writeInputs(t)
	dst := filepath.Join(t.TempDir(), "avatar.mp4")
	got, err := NewAvatar(NewGenerationClient(srv.URL, srv.URL, 0, 0)).Generate(context.Background(), v, a, dst)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !got.Indirect || got.Path != dst {
		t.Fatalf("unexpected fetch: %+v", got)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "video:real.mp4" {
		t.Fatalf("unexpected output %q", b)
	}
}

func TestFetch_RejectsNonVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>")
	}))
	defer srv.Close()

	gc := NewGenerationClient(srv.URL, srv.URL, 0, 0)
	dst := filepath.Join(t.TempDir(), "x.mp4")
	if _, err := gc.Fetch(context.Background(), "avatar", "x.mp4", dst); err == nil {
		t.Fatalf("expected error for html download")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("expected no file written")
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	r.Register("Fake", func(ctx context.Context, model string) (Summarizer, error) {
		return &stubSummarizer{}, nil
	})
	if _, err := r.Get(context.Background(), " fake ", ""); err != nil {
		t.Fatalf("get fake: %v", err)
	}
	_, err := r.Get(context.Background(), "nope", "")
	if err == nil || !strings.Contains(err.Error(), "known: fake") {
		t.Fatalf("expected unknown provider error listing fake, got %v", err)
	}
}

func TestRegistry_ResolveWithoutCredentials(t *testing.T) {
	r := NewRegistry()
	r.Register("groq", func(ctx context.Context, model string) (Summarizer, error) {
		return nil, ErrNoCredentials
	})
	r.Register("ollama", func(ctx context.Context, model string) (Summarizer, error) {
		return NewOllamaSummarizer("", model), nil
	})

	s, err := r.Resolve(context.Background(), "groq", "")
	if err != nil || s != nil {
		t.Fatalf("expected nil summarizer without credentials, got %v %v", s, err)
	}
	s, err = r.Resolve(context.Background(), "ollama", "phi3")
	if err != nil {
		t.Fatalf("resolve ollama: %v", err)
	}
	if o, ok := s.(*OllamaSummarizer); !ok || o.Model != "phi3" {
		t.Fatalf("unexpected summarizer %#v", s)
	}
	if _, err := r.Resolve(context.Background(), "nope", ""); err == nil {
		t.Fatalf("unknown provider must still fail")
	}
	if got := strings.Join(r.Names(), ","); got != "groq,ollama" {
		t.Fatalf("unexpected names %q", got)
	}
}
