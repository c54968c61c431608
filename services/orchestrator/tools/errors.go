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
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrorKind classifies a tool failure. The HTTP layer maps each kind to
// a status code and an errorType tag.
type ErrorKind string

const (
	InvalidInput          ErrorKind = "InvalidInput"
	AuthenticationFailure ErrorKind = "AuthenticationFailure"
	UpstreamError         ErrorKind = "UpstreamError"
	NetworkFailure        ErrorKind = "NetworkFailure"
	UnexpectedFailure     ErrorKind = "UnexpectedFailure"
)

// ToolError is returned by every tool handler on failure.
//
// StatusCode is the upstream HTTP status when one was received, else 0.
type ToolError struct {
	Kind       ErrorKind
	Tool       string
	StatusCode int
	Err        error
}

func (e *ToolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tool %s: %s (status %d): %v", e.Tool, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// IsToolError reports whether err is or wraps a ToolError.
func IsToolError(err error) bool {
	_, ok := AsToolError(err)
	return ok
}

// AsToolError returns the ToolError in err's chain, if any.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsKind reports whether err is a ToolError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	te, ok := AsToolError(err)
	return ok && te.Kind == kind
}

func invalidInput(tool string, err error) *ToolError {
	return &ToolError{Kind: InvalidInput, Tool: tool, Err: err}
}

func unexpected(tool string, err error) *ToolError {
	return &ToolError{Kind: UnexpectedFailure, Tool: tool, Err: err}
}

// statusError classifies a non-2xx upstream response.
func statusError(tool string, status int, body string) *ToolError {
	err := fmt.Errorf("upstream returned %d: %s", status, body)
	switch {
	case status == http.StatusBadRequest:
		return &ToolError{Kind: InvalidInput, Tool: tool, StatusCode: status, Err: err}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ToolError{Kind: AuthenticationFailure, Tool: tool, StatusCode: status, Err: err}
	default:
		return &ToolError{Kind: UpstreamError, Tool: tool, StatusCode: status, Err: err}
	}
}

// transportError classifies a failure to get any response at all.
func transportError(tool string, err error) *ToolError {
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ToolError{Kind: NetworkFailure, Tool: tool, Err: err}
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return &ToolError{Kind: NetworkFailure, Tool: tool, Err: err}
	default:
		return unexpected(tool, err)
	}
}
