// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ASKAI_CONFIG", "")

	configPath, logLevel, logJSON, watchPaths, forceIngest = "", "", false, false, false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "askai dev\n", out)
}

func TestConfigInit_WritesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "askai.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend: openai")

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "existing file must not be overwritten")
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "askai.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: sk-live-123\n"), 0644))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-live-123")
	assert.Contains(t, out, "********")
}

func TestIngest_RequiresPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "askai.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest:\n  documents: []\n"), 0644))

	_, err := execute(t, "--config", path, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no paths")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "********", mask("secret"))
}
