package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig
	Embed     EmbedConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Catalog   CatalogConfig
	Recommend RecommendConfig
	Refresh   RefreshConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port       int `validate:"min=1,max=65535"`
	AdminToken string
	RateLimit  int `validate:"min=0"`
}

type EmbedConfig struct {
	Backend    string `validate:"oneof=hashing ollama"`
	Dimensions int    `validate:"min=8,max=8192"`
}

type OllamaConfig struct {
	BaseURL    string `validate:"required,url"`
	EmbedModel string `validate:"required"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type CatalogConfig struct {
	Endpoint     string `validate:"required,url"`
	Token        string
	PageSize     int `validate:"min=1,max=5000"`
	MaxPages     int `validate:"min=1"`
	TargetTotal  int `validate:"min=1"`
	BatchDelayMS int `validate:"min=0"`
	GenreDelayMS int `validate:"min=0"`
}

func (c CatalogConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

func (c CatalogConfig) GenreDelay() time.Duration {
	return time.Duration(c.GenreDelayMS) * time.Millisecond
}

type RecommendConfig struct {
	TopK         int     `validate:"min=1,max=500"`
	BookWeight   float64 `validate:"min=0"`
	AuthorWeight float64 `validate:"min=0"`
	GenreWeight  float64 `validate:"min=0"`
	SearchWeight float64 `validate:"min=0"`
	MaxPerAuthor int     `validate:"min=0"`
	MinScore     float64
}

type RefreshConfig struct {
	TimeoutMinutes int `validate:"min=0"`
	IntervalHours  int `validate:"min=0"`
}

// Timeout returns the refresh budget, zero meaning unbounded.
func (c RefreshConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// Interval returns how often the server queues a refresh, zero meaning never.
func (c RefreshConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4100,
			RateLimit: 120,
		},
		Embed: EmbedConfig{
			Backend:    "hashing",
			Dimensions: 256,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Catalog: CatalogConfig{
			Endpoint:     "https://api.hardcover.app/v1/graphql",
			PageSize:     500,
			MaxPages:     100,
			TargetTotal:  30000,
			BatchDelayMS: 500,
			GenreDelayMS: 1000,
		},
		Recommend: RecommendConfig{
			TopK:         15,
			BookWeight:   1,
			AuthorWeight: 1,
			GenreWeight:  1,
			SearchWeight: 1,
		},
		Refresh: RefreshConfig{
			TimeoutMinutes: 60,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML file at the default location, then
// applies SHELFREC_* environment overrides on top.
//
// Secrets (server.admin_token, catalog.token) are only read from the
// environment.
func Load() (Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom is Load with an explicit config file path. A missing file is not an
// error.
func LoadFrom(path string) (Config, error) {
	b, err := newFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
