// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"log/slog"
	"os"
	"strings"
)

// secretsDir is where container runtimes mount secrets.
var secretsDir = "/run/secrets"

// ResolveSecret returns value when set, then the env var, then the
// mounted secret file /run/secrets/<file>. Empty means not configured.
func ResolveSecret(value, envName, file string) string {
	if value != "" {
		return value
	}
	if v := os.Getenv(envName); v != "" {
		return v
	}
	path := secretsDir + "/" + file
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	slog.Info("Read secret from mounted secrets", "name", file)
	return strings.TrimSpace(string(data))
}
