// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// isolate points the default lookup at an empty home directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvConfigPath, "")
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, Default())
	}
	if cfg.Memory.Window != 10 {
		t.Errorf("Memory.Window = %d, want 10", cfg.Memory.Window)
	}
	if !cfg.Ingest.Policy {
		t.Error("Ingest.Policy should be enabled by default")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "askai.yaml")
	writeFile(t, path, `
server:
  port: 9090
llm:
  backend: Ollama
  model: llama3.1
vector:
  backend: weaviate
  weaviate_url: "http://weaviate:8080"
rag:
  top_k: 6
tools:
  timeout: 3s
ingest:
  documents: [./a, ./b]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.LLM.Backend != "ollama" {
		t.Errorf("LLM.Backend = %q, want lower-cased ollama", cfg.LLM.Backend)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("LLM.BaseURL = %q, want ollama default", cfg.LLM.BaseURL)
	}
	if cfg.RAG.TopK != 6 || cfg.RAG.MinSimilarity != 0.2 {
		t.Errorf("RAG = %+v, want top_k 6 and default threshold", cfg.RAG)
	}
	if cfg.Tools.Timeout != 3*time.Second {
		t.Errorf("Tools.Timeout = %v, want 3s", cfg.Tools.Timeout)
	}
	if !reflect.DeepEqual(cfg.Ingest.Documents, []string{"./a", "./b"}) {
		t.Errorf("Ingest.Documents = %v", cfg.Ingest.Documents)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "askai.yaml")
	writeFile(t, path, "server:\n  port: 9090\nmemory:\n  window: 4\n")

	t.Setenv("ASKAI_PORT", "7070")
	t.Setenv("MEMORY_SQLITE_PATH", "")
	t.Setenv("RAG_MIN_SIMILARITY", "0.35")
	t.Setenv("CHAT_RE_READING", "true")
	t.Setenv("INGEST_DOCUMENTS", " ./x , ,./y")
	t.Setenv("TOOLS_MAX_ITERATIONS", "not-a-number")
	t.Setenv("INGEST_POLICY", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want env 7070", cfg.Server.Port)
	}
	if cfg.Memory.Window != 4 {
		t.Errorf("Memory.Window = %d, want file value 4", cfg.Memory.Window)
	}
	if cfg.RAG.MinSimilarity != 0.35 {
		t.Errorf("RAG.MinSimilarity = %v, want 0.35", cfg.RAG.MinSimilarity)
	}
	if !cfg.Chat.ReReading {
		t.Error("Chat.ReReading should be enabled by env")
	}
	if !reflect.DeepEqual(cfg.Ingest.Documents, []string{"./x", "./y"}) {
		t.Errorf("Ingest.Documents = %v", cfg.Ingest.Documents)
	}
	if cfg.Tools.MaxIterations != 5 {
		t.Errorf("Tools.MaxIterations = %d, unparsable env should keep 5", cfg.Tools.MaxIterations)
	}
	if cfg.Ingest.Policy {
		t.Error("Ingest.Policy should be disabled by env")
	}
}

func TestLoad_EnvConfigPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, "server:\n  port: 6060\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("Server.Port = %d, want 6060", cfg.Server.Port)
	}
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("explicit missing file should fail")
	}

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "server: [not, a, map")
	if _, err := Load(bad); err == nil {
		t.Error("malformed YAML should fail")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "llm:\n  backend: claude\nvector:\n  backend: weaviate\n")
	_, err := Load(invalid)
	if err == nil {
		t.Fatal("invalid backends should fail validation")
	}
	for _, want := range []string{"llm.backend", "vector.weaviate_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".askai", "askai.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("round trip = %+v, want %+v", cfg, Default())
	}

	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault() should not overwrite an existing file")
	}
}
