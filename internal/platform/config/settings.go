package config

import "time"

// Settings is the service configuration resolved from the environment.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	CatalogURL    string
	CatalogAPIKey string
	// CatalogRPS caps outgoing catalog requests per second.
	CatalogRPS int

	// EngineEnabled turns the HTTP streaming engine on. With it off, surfaces
	// rely on native support (NativeHLS) or fail as unsupported.
	EngineEnabled      bool
	NativeHLS          bool
	AutoplayRestricted bool
	LowLatency         bool
	MaxBufferSegments  int
	MaxSegmentRetries  int
	HTTPTimeout        time.Duration
	BackBuffer         time.Duration

	RetryBurst    int
	RetryInterval time.Duration

	RateLimitPerMinute int
}

// FromEnv reads Settings, applying defaults for anything unset.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		CatalogURL:    GetEnv("CATALOG_URL", "http://localhost:8000"),
		CatalogAPIKey: GetEnv("CATALOG_API_KEY", ""),
		CatalogRPS:    GetEnvInt("CATALOG_RPS", 5),

		EngineEnabled:      GetEnvBool("ENGINE_ENABLED", true),
		NativeHLS:          GetEnvBool("NATIVE_HLS", false),
		AutoplayRestricted: GetEnvBool("AUTOPLAY_POLICY", true),
		LowLatency:         GetEnvBool("LOW_LATENCY", false),
		MaxBufferSegments:  GetEnvInt("MAX_BUFFER_SEGMENTS", 6),
		MaxSegmentRetries:  GetEnvInt("MAX_SEGMENT_RETRIES", 3),
		HTTPTimeout:        GetEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		BackBuffer:         GetEnvDuration("BACK_BUFFER", 90*time.Second),

		RetryBurst:    GetEnvInt("RETRY_BURST", 5),
		RetryInterval: GetEnvDuration("RETRY_INTERVAL", 10*time.Second),

		RateLimitPerMinute: GetEnvInt("RATE_LIMIT_PER_MINUTE", 600),
	}
}
