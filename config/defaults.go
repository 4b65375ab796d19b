package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Council:    DefaultCouncilConfig(),
		OpenRouter: DefaultOpenRouterConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Quota:      DefaultQuotaConfig(),
		Pricing:    map[string]ModelPricing{},
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:    8080,
		MetricsPort: 9091,
		ReadTimeout: 30 * time.Second,
		// a streamed turn can span three stages of provider calls
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultCouncilConfig returns the default council configuration.
func DefaultCouncilConfig() CouncilConfig {
	return CouncilConfig{
		Members: []string{
			"openai/gpt-5.1",
			"google/gemini-3-pro-preview",
			"anthropic/claude-sonnet-4.5",
			"x-ai/grok-4",
		},
		Chairman:   "google/gemini-3-pro-preview",
		TitleModel: "google/gemini-2.5-flash",
		Modes: ModeTimeouts{
			Fast:     45 * time.Second,
			Balanced: 120 * time.Second,
			Thorough: 300 * time.Second,
		},
	}
}

// DefaultOpenRouterConfig returns the default upstream client configuration.
func DefaultOpenRouterConfig() OpenRouterConfig {
	return OpenRouterConfig{
		APIURL:            "https://openrouter.ai/api/v1/chat/completions",
		Timeout:           120 * time.Second,
		MaxRetries:        2,
		RetryBaseDelay:    time.Second,
		MaxConcurrency:    8,
		AuthCooldown:      60 * time.Second,
		RequestsPerSecond: 0,
	}
}

// DefaultDatabaseConfig returns the default usage store configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "council.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultQuotaConfig returns the default quota configuration.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Backend:          "db",
		MonthlyTokenCaps: map[string]int64{},
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "council",
		SampleRate:   1.0,
	}
}
