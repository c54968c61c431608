// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("askai.tools")

// DefaultNinjasBaseURL is the public api-ninjas endpoint.
const DefaultNinjasBaseURL = "https://api.api-ninjas.com"

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 5 << 20

// NinjasConfig configures the api-ninjas client.
type NinjasConfig struct {
	BaseURL       string
	APIKey        string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// NinjasClient calls api-ninjas endpoints. One client is shared by every
// tool so they share its connection pool and rate limit.
type NinjasClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewNinjasClient applies defaults: the public base URL, 10 requests per
// second with a burst of 5, and a 15 second timeout. A non-positive rate
// disables limiting.
func NewNinjasClient(cfg NinjasConfig) *NinjasClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNinjasBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &NinjasClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
}

// get performs one GET and returns the body and its content type. Non-2xx
// responses and transport failures are classified into ToolErrors.
func (c *NinjasClient) get(ctx context.Context, tool, path string, query url.Values, accept string) ([]byte, string, error) {
	ctx, span := tracer.Start(ctx, "NinjasClient.get")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", tool), attribute.String("http.path", path))

	fail := func(err *ToolError) ([]byte, string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(err.Kind))
		return nil, "", err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(transportError(tool, fmt.Errorf("rate limiter: %w", err)))
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fail(unexpected(tool, fmt.Errorf("build request: %w", err)))
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(transportError(tool, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(transportError(tool, fmt.Errorf("read body: %w", err)))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("Tool upstream returned an error", "tool", tool, "status", resp.StatusCode)
		return fail(statusError(tool, resp.StatusCode, truncate(string(body), 200)))
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
