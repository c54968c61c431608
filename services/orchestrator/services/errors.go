// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/askai/services/llm"
)

// =============================================================================
// Error Types
// =============================================================================

// InvalidArgumentError is a request the service refuses to answer, such as
// a capital query that is not about capitals.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return e.Message
}

// IsInvalidArgument checks if an error is an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var ia *InvalidArgumentError
	return errors.As(err, &ia)
}

// FormatError is model output that could not be turned into the expected
// shape. Raw holds the text as received.
type FormatError struct {
	Raw string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("model output has unexpected format: %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsFormatError checks if an error is a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// UpstreamModelError wraps a failure of the chat model, the embedder or the
// retriever behind them.
type UpstreamModelError struct {
	Op  string
	Err error
}

func (e *UpstreamModelError) Error() string {
	return fmt.Sprintf("upstream model failed during %s: %v", e.Op, e.Err)
}

func (e *UpstreamModelError) Unwrap() error {
	return e.Err
}

// Unavailable reports whether the provider was unreachable, overloaded or
// rate limiting. Errors without a provider status count as unavailable.
func (e *UpstreamModelError) Unavailable() bool {
	var me *llm.ModelError
	if errors.As(e.Err, &me) {
		return me.Unavailable()
	}
	return true
}

// IsUpstreamModelError checks if an error is an UpstreamModelError.
func IsUpstreamModelError(err error) bool {
	var ue *UpstreamModelError
	return errors.As(err, &ue)
}
