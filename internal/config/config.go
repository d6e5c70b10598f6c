// qsrcore/config.go

package config

import "time"

// S3SSEConfig selects server-side encryption for objects written to S3.
type S3SSEConfig struct {
	Mode     string // "" (none) | "aws:kms" | "AES256"
	KMSKeyID string
}

// S3Config configures the S3-compatible object store backend.
type S3Config struct {
	Bucket                string
	Region                string
	Endpoint              string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	Prefix                string
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// ObjectStoreConfig selects and configures the blob backend for uploaded
// manuals, photos, and rendered citation crops.
type ObjectStoreConfig struct {
	Backend string // "memory" | "s3"
	S3      S3Config
}

// BackendConfig configures a single pluggable persistence backend
// (full-text search, vector store, or graph store).
type BackendConfig struct {
	Backend string // "memory" | "postgres" | "qdrant", depending on component
	DSN     string
}

// VectorBackendConfig extends BackendConfig with the dimensionality and
// distance metric a vector index needs at creation time.
type VectorBackendConfig struct {
	BackendConfig
	Dimensions int
	Metric     string
}

// DBConfig groups the three persistence backends behind a common DSN
// fallback, mirroring the teacher's databases.NewManager resolution order.
type DBConfig struct {
	DefaultDSN string
	Search     BackendConfig
	Vector     VectorBackendConfig
	Graph      BackendConfig
}

// ProviderConfig holds API credentials and model selection common to every
// LLM vendor. OpenAIConfig, AnthropicConfig, and GoogleConfig each embed it
// and add the fields their own client/SDK needs.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIConfig configures the OpenAI-compatible chat-completion client. API
// selects the wire protocol ("completions", the default, or "responses");
// ExtraParams passes vendor-specific fields straight through to the SDK's
// request body (e.g. self-hosted servers that want reasoning_effort or a
// custom sampling field); LogPayloads enables verbose request/response
// logging for debugging a misbehaving provider.
type OpenAIConfig struct {
	ProviderConfig
	API         string
	ExtraParams map[string]any
	LogPayloads bool
}

// AnthropicPromptCacheConfig controls which message segments are marked
// with a prompt-cache breakpoint on the Anthropic Messages API.
type AnthropicPromptCacheConfig struct {
	Enabled      bool
	CacheSystem  bool
	CacheTools   bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic Messages API client.
type AnthropicConfig struct {
	ProviderConfig
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

// GoogleConfig configures the Gemini client. Timeout is in seconds; zero
// means the SDK's own default applies.
type GoogleConfig struct {
	ProviderConfig
	Timeout int
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIHeader string
	APIKey    string
	Headers   map[string]string
	Timeout   int // seconds
}

// LLMConfig selects the active chat-completion provider and its embedding
// endpoint/dimensionality.
type LLMConfig struct {
	Provider   string // "openai" | "anthropic" | "google"
	OpenAI     OpenAIConfig
	Anthropic  AnthropicConfig
	Google     GoogleConfig
	Embedding  EmbeddingConfig
	EmbedDim   int
}

// IngestConfig bounds ingestion concurrency and per-stage deadlines.
type IngestConfig struct {
	MaxConcurrent      int
	ExtractionDeadline time.Duration
	DualWriteDeadline  time.Duration
	CitationDeadline   time.Duration
}

// DegradeConfig sets the thresholds the degradation state machine watches.
type DegradeConfig struct {
	MemoryHighWaterMB   int
	QueueBacklogMax     int
	HealthProbeInterval time.Duration
}

// RedisConfig configures a redis connection. Disabled by default: callers
// that construct a redis-backed component from a zero-value RedisConfig get
// a no-op.
type RedisConfig struct {
	Enabled               bool
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// LocalQueueConfig configures the §5 local-queue degradation buffer: when
// external stores are unreachable, validated uploads are pushed here for
// replay once the degrade controller reports recovery.
type LocalQueueConfig struct {
	Redis     RedisConfig
	KeyPrefix string
}

// TTSConfig points at an OpenAI-compatible text-to-speech endpoint used to
// synthesize audio for the composed response's spoken narration (spec §4.6
// step 8). Disabled by default; ShapeForSpeech's text output does not
// require it.
type TTSConfig struct {
	Enabled bool
	BaseURL string
	Model   string
	Voice   string
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Environment    string
	Insecure       bool
}

// Config is the fully resolved runtime configuration for the service.
type Config struct {
	HTTPAddr string
	LogLevel string

	ObjectStore ObjectStoreConfig
	Databases   DBConfig
	LLM         LLMConfig
	Ingest      IngestConfig
	Degrade     DegradeConfig
	LocalQueue  LocalQueueConfig
	TTS         TTSConfig
	Telemetry   TelemetryConfig
}
