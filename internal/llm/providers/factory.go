package providers

import (
	"fmt"
	"net/http"

	"qsrcore/internal/config"
	"qsrcore/internal/llm"
	"qsrcore/internal/llm/anthropic"
	"qsrcore/internal/llm/google"
	openaillm "qsrcore/internal/llm/openai"
)

// Build constructs an llm.Provider based on the configured provider name.
// - openai: uses the OpenAI client
// - local: uses the OpenAI client with completions API
// - anthropic/google: uses the Anthropic and Google clients
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return openaillm.New(cfg.LLM.OpenAI, httpClient), nil
	case "local":
		oc := cfg.LLM.OpenAI
		oc.API = "completions"
		return openaillm.New(oc, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.LLM.Anthropic, httpClient), nil
	case "google":
		return google.New(cfg.LLM.Google, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
