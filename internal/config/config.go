// Package config provides the configuration schema, loader, and provider
// registry for the Coda voice assistant.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// STTMode selects the audio capture mode.
type STTMode string

const (
	STTPushToTalk STTMode = "push_to_talk"
	STTContinuous STTMode = "continuous"
	STTFile       STTMode = "file"
)

// IsValid reports whether m is a recognised capture mode.
func (m STTMode) IsValid() bool {
	switch m {
	case STTPushToTalk, STTContinuous, STTFile:
		return true
	}
	return false
}

// MCPTransport selects the connection mechanism for an MCP tool server.
type MCPTransport string

const (
	MCPStdio          MCPTransport = "stdio"
	MCPStreamableHTTP MCPTransport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t MCPTransport) IsValid() bool {
	return t == MCPStdio || t == MCPStreamableHTTP
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Assistant AssistantConfig `yaml:"assistant"`
	Memory    MemoryConfig    `yaml:"memory"`
	Tools     ToolsConfig     `yaml:"tools"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// EventsAddr is the WebSocket event feed listen address.
	// Default: "localhost:8765".
	EventsAddr string `yaml:"events_addr"`

	// HealthAddr is the HTTP listen address for /healthz, /readyz, and
	// /metrics. Default: "localhost:8766".
	HealthAddr string `yaml:"health_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogDir is where rotating log files are written. Empty disables file
	// logging.
	LogDir string `yaml:"log_dir"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage.
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "ollama", "whisper", "melo").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// AssistantConfig describes the assistant's persona and pipeline settings.
type AssistantConfig struct {
	// Personality is a free-text persona description injected into the
	// system prompt.
	Personality string `yaml:"personality"`

	// Voice configures the TTS voice.
	Voice VoiceConfig `yaml:"voice"`

	// Language is the transcription language hint (e.g., "en").
	Language string `yaml:"language"`

	// STTMode selects the capture mode. Default: continuous.
	STTMode STTMode `yaml:"stt_mode"`

	// MaxContextTokens budgets the short-term context window passed to the
	// LLM. Zero selects the orchestrator default.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// VoiceConfig specifies the TTS voice.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Name is the human-readable voice name, used in events.
	Name string `yaml:"name"`
}

// MemoryConfig holds settings for both memory layers.
type MemoryConfig struct {
	// Dir is where the file-backed long-term store keeps its metadata
	// document. Ignored when PostgresDSN is set.
	Dir string `yaml:"dir"`

	// PostgresDSN selects the pgvector-backed store when non-empty.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MaxMemories caps the long-term store; lowest forgetting scores are
	// evicted first. Zero selects the store default.
	MaxMemories int `yaml:"max_memories"`

	// ShortTermCapacity caps the conversation log. Zero selects the default.
	ShortTermCapacity int `yaml:"short_term_capacity"`

	// ExportDir is where conversation exports are written on shutdown.
	// Empty disables exporting.
	ExportDir string `yaml:"export_dir"`

	// SnapshotDir is where memory snapshots are written.
	SnapshotDir string `yaml:"snapshot_dir"`
}

// ToolsConfig holds tool router settings.
type ToolsConfig struct {
	// MCPServers lists external MCP servers whose tools join the registry.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique identifier for this server, used in logs and tool
	// categories.
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport MCPTransport `yaml:"transport"`

	// Command is the executable (with arguments) launched when Transport is
	// "stdio".
	Command string `yaml:"command"`

	// URL is the endpoint address used when Transport is "streamable-http".
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the
	// subprocess for stdio transport.
	Env map[string]string `yaml:"env"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	// SampleIntervalSeconds is how often system_metrics events are emitted.
	// Zero selects the default.
	SampleIntervalSeconds int `yaml:"sample_interval_seconds"`
}

// Default addresses applied by Load when the config leaves them empty.
const (
	DefaultEventsAddr = "localhost:8765"
	DefaultHealthAddr = "localhost:8766"
)

// ApplyDefaults fills empty fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.EventsAddr == "" {
		c.Server.EventsAddr = DefaultEventsAddr
	}
	if c.Server.HealthAddr == "" {
		c.Server.HealthAddr = DefaultHealthAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Assistant.STTMode == "" {
		c.Assistant.STTMode = STTContinuous
	}
}
