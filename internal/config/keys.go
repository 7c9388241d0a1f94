package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SHELFREC_"

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SHELFREC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.admin_token", typ: kString, env: "SHELFREC_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AdminToken },
	},
	{
		key: "server.rate_limit", typ: kInt, env: "SHELFREC_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "embed.backend", typ: kString, env: "SHELFREC_EMBED_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Embed.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Backend },
	},
	{
		key: "embed.dimensions", typ: kInt, env: "SHELFREC_EMBED_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embed.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embed.Dimensions },
	},
	{
		key: "ollama.url", typ: kString, env: "SHELFREC_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "SHELFREC_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SHELFREC_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "catalog.endpoint", typ: kString, env: "SHELFREC_CATALOG_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Endpoint },
	},
	{
		key: "catalog.token", typ: kString, env: "SHELFREC_CATALOG_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Catalog.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Token },
	},
	{
		key: "catalog.page_size", typ: kInt, env: "SHELFREC_CATALOG_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Catalog.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Catalog.PageSize },
	},
	{
		key: "catalog.max_pages", typ: kInt, env: "SHELFREC_CATALOG_MAX_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Catalog.MaxPages = v.(int) },
		extract: func(cfg Config) any { return cfg.Catalog.MaxPages },
	},
	{
		key: "catalog.target_total", typ: kInt, env: "SHELFREC_CATALOG_TARGET_TOTAL",
		apply:   func(cfg *Config, v any) { cfg.Catalog.TargetTotal = v.(int) },
		extract: func(cfg Config) any { return cfg.Catalog.TargetTotal },
	},
	{
		key: "catalog.batch_delay_ms", typ: kInt, env: "SHELFREC_CATALOG_BATCH_DELAY_MS",
		apply:   func(cfg *Config, v any) { cfg.Catalog.BatchDelayMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Catalog.BatchDelayMS },
	},
	{
		key: "catalog.genre_delay_ms", typ: kInt, env: "SHELFREC_CATALOG_GENRE_DELAY_MS",
		apply:   func(cfg *Config, v any) { cfg.Catalog.GenreDelayMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Catalog.GenreDelayMS },
	},
	{
		key: "recommend.top_k", typ: kInt, env: "SHELFREC_RECOMMEND_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Recommend.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommend.TopK },
	},
	{
		key: "recommend.book_weight", typ: kFloat, env: "SHELFREC_RECOMMEND_BOOK_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Recommend.BookWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Recommend.BookWeight },
	},
	{
		key: "recommend.author_weight", typ: kFloat, env: "SHELFREC_RECOMMEND_AUTHOR_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Recommend.AuthorWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Recommend.AuthorWeight },
	},
	{
		key: "recommend.genre_weight", typ: kFloat, env: "SHELFREC_RECOMMEND_GENRE_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Recommend.GenreWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Recommend.GenreWeight },
	},
	{
		key: "recommend.search_weight", typ: kFloat, env: "SHELFREC_RECOMMEND_SEARCH_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Recommend.SearchWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Recommend.SearchWeight },
	},
	{
		key: "recommend.max_per_author", typ: kInt, env: "SHELFREC_RECOMMEND_MAX_PER_AUTHOR",
		apply:   func(cfg *Config, v any) { cfg.Recommend.MaxPerAuthor = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommend.MaxPerAuthor },
	},
	{
		key: "recommend.min_score", typ: kFloat, env: "SHELFREC_RECOMMEND_MIN_SCORE",
		apply:   func(cfg *Config, v any) { cfg.Recommend.MinScore = v.(float64) },
		extract: func(cfg Config) any { return cfg.Recommend.MinScore },
	},
	{
		key: "refresh.timeout_minutes", typ: kInt, env: "SHELFREC_REFRESH_TIMEOUT_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Refresh.TimeoutMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Refresh.TimeoutMinutes },
	},
	{
		key: "refresh.interval_hours", typ: kInt, env: "SHELFREC_REFRESH_INTERVAL_HOURS",
		apply:   func(cfg *Config, v any) { cfg.Refresh.IntervalHours = v.(int) },
		extract: func(cfg Config) any { return cfg.Refresh.IntervalHours },
	},
	{
		key: "log.level", typ: kString, env: "SHELFREC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

// applyEnvOverrides loads SHELFREC_* variables through koanf, mapping each
// known variable name onto its dotted key. Unknown variables are ignored.
func applyEnvOverrides(cfg *Config) error {
	byEnv := make(map[string]string, len(specs))
	for _, s := range specs {
		if s.env != "" {
			byEnv[s.env] = s.key
		}
	}

	k := koanf.New(".")
	err := k.Load(env.Provider(envPrefix, ".", func(name string) string {
		return byEnv[name]
	}), nil)
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	for _, s := range specs {
		if !k.Exists(s.key) {
			continue
		}
		raw := k.String(s.key)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
	return nil
}
