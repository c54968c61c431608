// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the askai server configuration.
//
// Values come from three layers, later layers winning:
//
//  1. built-in defaults (Default)
//  2. a YAML file (~/.askai/askai.yaml, or the path given)
//  3. environment variables (see applyEnv)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the env var that points at the config file.
const EnvConfigPath = "ASKAI_CONFIG"

// Supported LLM and vector backends.
const (
	BackendOpenAI  = "openai"
	BackendOllama  = "ollama"
	VectorMemory   = "memory"
	VectorWeaviate = "weaviate"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	LLM    LLMConfig    `yaml:"llm"`
	Vector VectorConfig `yaml:"vector"`
	Memory MemoryConfig `yaml:"memory"`
	RAG    RAGConfig    `yaml:"rag"`
	Tools  ToolsConfig  `yaml:"tools"`
	Chat   ChatConfig   `yaml:"chat"`
	OTel   OTelConfig   `yaml:"otel"`
	Ingest IngestConfig `yaml:"ingest"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	GinMode  string `yaml:"gin_mode"`
	// APIToken, when set, is required as a bearer token on /api/v1.
	APIToken string `yaml:"api_token,omitempty"`
}

type LLMConfig struct {
	// Backend is "openai" or "ollama".
	Backend        string `yaml:"backend"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	BaseURL        string `yaml:"base_url,omitempty"`
	APIKey         string `yaml:"api_key,omitempty"`
	ImageModel     string `yaml:"image_model,omitempty"`
	SpeechModel    string `yaml:"speech_model,omitempty"`
	Voice          string `yaml:"voice,omitempty"`
}

type VectorConfig struct {
	// Backend is "weaviate" or "memory".
	Backend     string `yaml:"backend"`
	WeaviateURL string `yaml:"weaviate_url,omitempty"`
	Class       string `yaml:"class"`
}

type MemoryConfig struct {
	// SQLitePath selects the durable store. Empty keeps conversations in
	// process memory only.
	SQLitePath string `yaml:"sqlite_path"`
	Window     int    `yaml:"window"`
}

type RAGConfig struct {
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

type ToolsConfig struct {
	NinjasBaseURL string        `yaml:"ninjas_base_url"`
	NinjasAPIKey  string        `yaml:"ninjas_api_key,omitempty"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxIterations int           `yaml:"max_iterations"`
	// TimeZone is the IANA zone for the date/time tools. Empty uses the
	// server's local zone.
	TimeZone      string        `yaml:"time_zone,omitempty"`
}

type ChatConfig struct {
	ReReading bool `yaml:"re_reading"`
}

type OTelConfig struct {
	// Endpoint is the OTLP gRPC collector. Empty disables trace export.
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type IngestConfig struct {
	// Documents are files or directories loaded into an empty index at
	// serve start.
	Documents   []string `yaml:"documents"`
	Watch       bool     `yaml:"watch"`
	BatchSize   int      `yaml:"batch_size"`
	Concurrency int      `yaml:"concurrency"`
	// Policy rejects documents that match a blocking data classification
	// rule, such as credentials.
	Policy      bool     `yaml:"policy"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir,omitempty"`
}

// Default returns the configuration used when no file or env var says
// otherwise.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080, GinMode: "release"},
		LLM: LLMConfig{
			Backend:        BackendOpenAI,
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		Vector: VectorConfig{Backend: VectorMemory, Class: "Document"},
		Memory: MemoryConfig{SQLitePath: "./data/askai.db", Window: 10},
		RAG:    RAGConfig{TopK: 4, MinSimilarity: 0.2},
		Tools: ToolsConfig{
			NinjasBaseURL: "https://api.api-ninjas.com",
			RatePerSecond: 5,
			Burst:         5,
			Timeout:       15 * time.Second,
			MaxIterations: 5,
		},
		OTel:   OTelConfig{ServiceName: "askai"},
		Ingest: IngestConfig{Documents: []string{"./docs"}, BatchSize: 32, Concurrency: 4, Policy: true},
		Log:    LogConfig{Level: "info"},
	}
}

// DefaultPath is ~/.askai/askai.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".askai", "askai.yaml"), nil
}

// Load builds the configuration.
//
// # Description
//
// An explicit path must exist. With no path, ASKAI_CONFIG is tried, then
// DefaultPath; a missing default file is not an error. Env overrides and
// defaults are applied last, then the result is validated.
//
// # Inputs
//
//   - path: Config file, or "" for the lookup described above.
//
// # Outputs
//
//   - Config: Ready to use.
//   - error: Unreadable or malformed file, or an invalid value.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if !explicit {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes Default() as YAML to path, creating parent
// directories. An existing file is left alone and reported as an error.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the enumerated and ranged values.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Backend {
	case BackendOpenAI, BackendOllama:
	default:
		errs = append(errs, fmt.Errorf("llm.backend must be openai or ollama, got %q", c.LLM.Backend))
	}
	switch c.Vector.Backend {
	case VectorMemory:
	case VectorWeaviate:
		if c.Vector.WeaviateURL == "" {
			errs = append(errs, errors.New("vector.weaviate_url is required for the weaviate backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("vector.backend must be weaviate or memory, got %q", c.Vector.Backend))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.RAG.MinSimilarity < 0 || c.RAG.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("rag.min_similarity must be within [0, 1], got %v", c.RAG.MinSimilarity))
	}
	return errors.Join(errs...)
}

// applyConfigDefaults fills zero values left by a partial file.
func applyConfigDefaults(c Config) Config {
	d := Default()
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.GinMode == "" {
		c.Server.GinMode = d.Server.GinMode
	}
	if c.LLM.Backend == "" {
		c.LLM.Backend = d.LLM.Backend
	}
	c.LLM.Backend = strings.ToLower(c.LLM.Backend)
	if c.LLM.Backend == BackendOllama && c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:11434"
	}
	if c.Vector.Backend == "" {
		c.Vector.Backend = d.Vector.Backend
	}
	c.Vector.Backend = strings.ToLower(c.Vector.Backend)
	c.Vector.WeaviateURL = strings.Trim(c.Vector.WeaviateURL, "\"' ")
	if c.Vector.Class == "" {
		c.Vector.Class = d.Vector.Class
	}
	if c.Memory.Window <= 0 {
		c.Memory.Window = d.Memory.Window
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = d.RAG.TopK
	}
	if c.Tools.NinjasBaseURL == "" {
		c.Tools.NinjasBaseURL = d.Tools.NinjasBaseURL
	}
	if c.Tools.Burst <= 0 {
		c.Tools.Burst = d.Tools.Burst
	}
	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = d.Tools.Timeout
	}
	if c.Tools.MaxIterations <= 0 {
		c.Tools.MaxIterations = d.Tools.MaxIterations
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = d.OTel.ServiceName
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = d.Ingest.BatchSize
	}
	if c.Ingest.Concurrency <= 0 {
		c.Ingest.Concurrency = d.Ingest.Concurrency
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	return c
}

// applyEnv overrides file values with any env var that is set.
func applyEnv(c *Config) {
	c.Server.Port = getEnvInt("ASKAI_PORT", c.Server.Port)
	c.Server.GinMode = getEnvString("GIN_MODE", c.Server.GinMode)
	c.Server.APIToken = getEnvString("ASKAI_API_TOKEN", c.Server.APIToken)

	c.LLM.Backend = getEnvString("LLM_BACKEND_TYPE", c.LLM.Backend)
	c.LLM.Model = getEnvString("LLM_MODEL", c.LLM.Model)
	c.LLM.EmbeddingModel = getEnvString("LLM_EMBEDDING_MODEL", c.LLM.EmbeddingModel)
	c.LLM.BaseURL = getEnvString("LLM_BASE_URL", c.LLM.BaseURL)

	c.Vector.Backend = getEnvString("VECTOR_BACKEND", c.Vector.Backend)
	c.Vector.WeaviateURL = getEnvString("WEAVIATE_SERVICE_URL", c.Vector.WeaviateURL)
	c.Vector.Class = getEnvString("WEAVIATE_CLASS", c.Vector.Class)

	c.Memory.SQLitePath = getEnvString("MEMORY_SQLITE_PATH", c.Memory.SQLitePath)
	c.Memory.Window = getEnvInt("MEMORY_WINDOW", c.Memory.Window)

	c.RAG.TopK = getEnvInt("RAG_TOP_K", c.RAG.TopK)
	c.RAG.MinSimilarity = getEnvFloat("RAG_MIN_SIMILARITY", c.RAG.MinSimilarity)

	c.Tools.NinjasBaseURL = getEnvString("NINJAS_BASE_URL", c.Tools.NinjasBaseURL)
	c.Tools.RatePerSecond = getEnvFloat("TOOLS_RATE_PER_SECOND", c.Tools.RatePerSecond)
	c.Tools.MaxIterations = getEnvInt("TOOLS_MAX_ITERATIONS", c.Tools.MaxIterations)
	c.Tools.TimeZone = getEnvString("TOOLS_TIME_ZONE", c.Tools.TimeZone)

	c.Chat.ReReading = getEnvBool("CHAT_RE_READING", c.Chat.ReReading)
	c.OTel.Endpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTel.Endpoint)

	if v := os.Getenv("INGEST_DOCUMENTS"); v != "" {
		c.Ingest.Documents = splitList(v)
	}
	c.Ingest.Watch = getEnvBool("INGEST_WATCH", c.Ingest.Watch)
	c.Ingest.Policy = getEnvBool("INGEST_POLICY", c.Ingest.Policy)
	c.Log.Level = getEnvString("LOG_LEVEL", c.Log.Level)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
