package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/suPer8Hu/intelliavatar/internal/common"
)

const SarvamBaseURL = "https://api.sarvam.ai"

// Speech turns text into WAV audio bytes.
type Speech interface {
	Synthesize(ctx context.Context, text, voice, language string) ([]byte, error)
}

var voices = map[string]string{
	"male":   "hitesh",
	"female": "manisha",
}

// VoiceForGender maps a requested gender to a speaker id.
func VoiceForGender(gender string) (string, error) {
	v, ok := voices[strings.ToLower(strings.TrimSpace(gender))]
	if !ok {
		return "", common.Invalid("gender", "must be male or female")
	}
	return v, nil
}

// LanguageCode turns a short language tag into the locale the TTS service expects.
func LanguageCode(lang string) string {
	lang = strings.TrimSpace(lang)
	switch {
	case lang == "":
		return "en-IN"
	case strings.Contains(lang, "-"):
		return lang
	default:
		return strings.ToLower(lang) + "-IN"
	}
}

// SarvamTTS calls the Sarvam text-to-speech API.
type SarvamTTS struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewSarvamTTS(baseURL, apiKey string) *SarvamTTS {
	if baseURL == "" {
		baseURL = SarvamBaseURL
	}
	return &SarvamTTS{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   "bulbul:v2",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type ttsReq struct {
	Inputs             []string `json:"inputs"`
	TargetLanguageCode string   `json:"target_language_code"`
	Speaker            string   `json:"speaker"`
	Model              string   `json:"model,omitempty"`
}

type ttsResp struct {
	Audios []string `json:"audios"`
}

func (s *SarvamTTS) Synthesize(ctx context.Context, text, voice, language string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, common.Invalid("text", "must not be empty")
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, common.Collaborator("tts", "synthesize", errors.New("api key is not configured"))
	}

	b, err := json.Marshal(ttsReq{
		Inputs:             []string{text},
		TargetLanguageCode: LanguageCode(language),
		Speaker:            voice,
		Model:              s.Model,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/text-to-speech", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-subscription-key", s.APIKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, common.Collaborator("tts", "synthesize", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &common.CollaboratorError{Service: "tts", Op: "synthesize", StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	}

	var decoded ttsResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, common.Collaborator("tts", "synthesize", err)
	}
	if len(decoded.Audios) == 0 || decoded.Audios[0] == "" {
		return nil, common.Collaborator("tts", "synthesize", errors.New("reply has no audio"))
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.Audios[0])
	if err != nil {
		return nil, common.Collaborator("tts", "synthesize", err)
	}
	return audio, nil
}
