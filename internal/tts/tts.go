// Package tts synthesizes spoken audio for the composed response's
// narration (spec §4.6 step 8) by calling an OpenAI-compatible
// /v1/audio/speech endpoint, mirroring the teacher's tools/tts tool.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"encoding/json"

	"qsrcore/internal/config"
)

// Shaper synthesizes audio bytes for already speech-shaped text. Kept
// narrow so callers (e.g. httpapi) depend on an interface rather than a
// concrete HTTP client, the same shape as the teacher's narrower tool
// wrappers around an external API.
type Shaper interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Client calls an OpenAI-compatible TTS endpoint. BaseURL resolves, in
// order: cfg.TTS.BaseURL, then the caller-supplied openAIBaseURL fallback,
// then https://api.openai.com.
type Client struct {
	baseURL    string
	model      string
	voice      string
	apiKey     string
	httpClient *http.Client
}

// New constructs a Client from TTS config and the LLM provider's API key
// (used as the bearer token when the TTS endpoint itself is OpenAI or an
// OpenAI-compatible gateway sharing that key). Returns nil when tts is
// disabled.
func New(cfg config.TTSConfig, openAIBaseURL, openAIAPIKey string, httpClient *http.Client) *Client {
	if !cfg.Enabled {
		return nil
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      cfg.Model,
		voice:      cfg.Voice,
		apiKey:     openAIAPIKey,
		httpClient: httpClient,
	}
}

type speechRequest struct {
	Model string `json:"model,omitempty"`
	Voice string `json:"voice,omitempty"`
	Input string `json:"input"`
}

// Synthesize posts text to the TTS endpoint and returns the raw audio body.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("tts: client not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("tts: text is required")
	}
	body, err := json.Marshal(speechRequest{Model: c.model, Voice: c.voice, Input: text})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/speech", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("tts: server error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read audio: %w", err)
	}
	return audio, nil
}
