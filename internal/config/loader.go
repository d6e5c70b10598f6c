package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables, allowing a local
// .env file to override the process environment during development.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		HTTPAddr: firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_HTTP_ADDR")), ":8080"),
		LogLevel: firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
	}

	cfg.ObjectStore = ObjectStoreConfig{
		Backend: firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_BLOB_BACKEND")), "memory"),
		S3: S3Config{
			Bucket:       strings.TrimSpace(os.Getenv("QSR_S3_BUCKET")),
			Region:       strings.TrimSpace(os.Getenv("QSR_S3_REGION")),
			Endpoint:     strings.TrimSpace(os.Getenv("QSR_S3_ENDPOINT")),
			AccessKey:    strings.TrimSpace(os.Getenv("QSR_S3_ACCESS_KEY")),
			SecretKey:    strings.TrimSpace(os.Getenv("QSR_S3_SECRET_KEY")),
			UsePathStyle: boolFromEnv("QSR_S3_FORCE_PATH_STYLE", false),
			Prefix:       strings.TrimSpace(os.Getenv("QSR_S3_PREFIX")),
		},
	}

	defaultDSN := strings.TrimSpace(os.Getenv("QSR_DATABASE_DSN"))
	cfg.Databases = DBConfig{
		DefaultDSN: defaultDSN,
		Search: BackendConfig{
			Backend: firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_SEARCH_BACKEND")), "memory"),
			DSN:     strings.TrimSpace(os.Getenv("QSR_SEARCH_DSN")),
		},
		Vector: VectorBackendConfig{
			BackendConfig: BackendConfig{
				Backend: firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_VECTOR_BACKEND")), "memory"),
				DSN:     strings.TrimSpace(os.Getenv("QSR_VECTOR_DSN")),
			},
			Dimensions: intFromEnv("QSR_EMBED_DIM", 1536),
			Metric:     firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_VECTOR_METRIC")), "cosine"),
		},
		Graph: BackendConfig{
			Backend: firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_GRAPH_BACKEND")), "memory"),
			DSN:     strings.TrimSpace(os.Getenv("QSR_GRAPH_DSN")),
		},
	}

	cfg.LLM = LLMConfig{
		Provider: firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_LLM_PROVIDER")), "openai"),
		OpenAI: OpenAIConfig{
			ProviderConfig: ProviderConfig{
				APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
				Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_MODEL")), "gpt-4o-mini"),
				BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
			},
			API:         firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_API_MODE")), "completions"),
			LogPayloads: boolFromEnv("QSR_LLM_LOG_PAYLOADS", false),
		},
		Anthropic: AnthropicConfig{
			ProviderConfig: ProviderConfig{
				APIKey:  strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
				Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")), "claude-sonnet-4-5"),
				BaseURL: strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")),
			},
			PromptCache: AnthropicPromptCacheConfig{
				Enabled: boolFromEnv("QSR_ANTHROPIC_PROMPT_CACHE", true),
			},
		},
		Google: GoogleConfig{
			ProviderConfig: ProviderConfig{
				APIKey:  strings.TrimSpace(os.Getenv("GOOGLE_LLM_API_KEY")),
				Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("GOOGLE_LLM_MODEL")), "gemini-2.0-flash"),
				BaseURL: strings.TrimSpace(os.Getenv("GOOGLE_LLM_BASE_URL")),
			},
			Timeout: intFromEnv("GOOGLE_LLM_TIMEOUT_SECONDS", 60),
		},
		Embedding: EmbeddingConfig{
			BaseURL:   firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_EMBED_BASE_URL")), "https://api.openai.com"),
			Path:      firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_EMBED_PATH")), "/v1/embeddings"),
			Model:     firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_EMBED_MODEL")), "text-embedding-3-small"),
			APIHeader: "Authorization",
			APIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Timeout:   intFromEnv("QSR_EMBED_TIMEOUT_SECONDS", 30),
		},
		EmbedDim: intFromEnv("QSR_EMBED_DIM", 1536),
	}

	cfg.Ingest = IngestConfig{
		MaxConcurrent:      intFromEnv("QSR_MAX_CONCURRENT_INGESTS", 4),
		ExtractionDeadline: durationFromEnvSeconds("QSR_EXTRACTION_DEADLINE_SECONDS", 120*time.Second),
		DualWriteDeadline:  durationFromEnvSeconds("QSR_DUALWRITE_DEADLINE_SECONDS", 60*time.Second),
		CitationDeadline:   durationFromEnvSeconds("QSR_CITATION_DEADLINE_SECONDS", 30*time.Second),
	}

	cfg.Degrade = DegradeConfig{
		MemoryHighWaterMB:   intFromEnv("QSR_MEMORY_HIGH_WATER_MB", 1536),
		QueueBacklogMax:     intFromEnv("QSR_QUEUE_BACKLOG_MAX", 200),
		HealthProbeInterval: durationFromEnvSeconds("QSR_HEALTH_PROBE_SECONDS", 15*time.Second),
	}

	cfg.LocalQueue = LocalQueueConfig{
		Redis: RedisConfig{
			Enabled:               strings.TrimSpace(os.Getenv("QSR_REDIS_ADDR")) != "",
			Addr:                  strings.TrimSpace(os.Getenv("QSR_REDIS_ADDR")),
			Password:              strings.TrimSpace(os.Getenv("QSR_REDIS_PASSWORD")),
			DB:                    intFromEnv("QSR_REDIS_DB", 0),
			TLSInsecureSkipVerify: boolFromEnv("QSR_REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		},
		KeyPrefix: firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_LOCAL_QUEUE_PREFIX")), "qsrcore:localqueue"),
	}

	cfg.TTS = TTSConfig{
		Enabled: boolFromEnv("QSR_TTS_ENABLED", false),
		BaseURL: strings.TrimSpace(os.Getenv("QSR_TTS_BASE_URL")),
		Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_TTS_MODEL")), "gpt-4o-mini-tts"),
		Voice:   firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_TTS_VOICE")), "alloy"),
	}

	cfg.Telemetry = TelemetryConfig{
		Enabled:        strings.TrimSpace(os.Getenv("QSR_OTEL_ENDPOINT")) != "",
		OTLPEndpoint:   strings.TrimSpace(os.Getenv("QSR_OTEL_ENDPOINT")),
		ServiceName:    firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_OTEL_SERVICE_NAME")), "qsrcore"),
		ServiceVersion: firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_OTEL_SERVICE_VERSION")), "dev"),
		Environment:    firstNonEmpty(strings.TrimSpace(os.Getenv("QSR_ENVIRONMENT")), "development"),
		Insecure:       boolFromEnv("QSR_OTEL_INSECURE", true),
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := parseInt(v); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	return def
}

func durationFromEnvSeconds(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := parseInt(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
