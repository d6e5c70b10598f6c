package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"qsrcore/internal/config"
)

func TestSynthesize_PostsExpectedBodyAndAuthHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Fatalf("expected /v1/audio/speech, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected Authorization header Bearer secret, got %q", got)
		}
		var body speechRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body.Input != "Step 1, drain the oil." {
			t.Fatalf("unexpected input: %q", body.Input)
		}
		if body.Model != "gpt-4o-mini-tts" || body.Voice != "alloy" {
			t.Fatalf("unexpected model/voice: %+v", body)
		}
		w.Write([]byte("fake-audio-bytes"))
	}))
	defer ts.Close()

	cfg := config.TTSConfig{Enabled: true, BaseURL: ts.URL, Model: "gpt-4o-mini-tts", Voice: "alloy"}
	c := New(cfg, "", "secret", nil)
	audio, err := c.Synthesize(context.Background(), "Step 1, drain the oil.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "fake-audio-bytes" {
		t.Fatalf("unexpected audio bytes: %q", audio)
	}
}

func TestSynthesize_ServerErrorReturnsErr(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer ts.Close()

	cfg := config.TTSConfig{Enabled: true, BaseURL: ts.URL}
	c := New(cfg, "", "secret", nil)
	if _, err := c.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error from server error response")
	}
}

func TestNew_DisabledReturnsNil(t *testing.T) {
	c := New(config.TTSConfig{Enabled: false}, "", "", nil)
	if c != nil {
		t.Fatalf("expected nil client when tts disabled")
	}
}

func TestSynthesize_NilReceiverReturnsErr(t *testing.T) {
	var c *Client
	if _, err := c.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error from nil client")
	}
}

func TestSynthesize_EmptyTextRejected(t *testing.T) {
	cfg := config.TTSConfig{Enabled: true, BaseURL: "http://example.invalid"}
	c := New(cfg, "", "secret", nil)
	if _, err := c.Synthesize(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty text")
	}
}
