// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/AleutianAI/askai/services/orchestrator/services"
	"github.com/AleutianAI/askai/services/orchestrator/tools"
	"github.com/AleutianAI/askai/services/policy_engine"
	"github.com/gin-gonic/gin"
)

// Values of the errorType field in error bodies.
const (
	ErrorTypeInvalidRequest = "Invalid Request"
	ErrorTypeFormat         = "Format Error"
	ErrorTypeUpstreamModel  = "Upstream Model Error"
	ErrorTypeToolInput      = "Invalid Tool Input"
	ErrorTypeToolAuth       = "Tool Authentication Failure"
	ErrorTypeToolUpstream   = "Tool Upstream Error"
	ErrorTypeToolNetwork    = "Tool Network Failure"
	ErrorTypeToolFailure    = "Tool Failure"
	ErrorTypeNotImplemented = "Not Implemented"
	ErrorTypePolicy         = "Policy Violation"
	ErrorTypeInternal       = "Internal Error"

	internalErrorMessage = "An internal error occurred"
)

// classifyError maps an error to its HTTP status, errorType tag and the
// message safe to show the client.
//
// # Description
//
// Classification uses errors.As through the whole wrap chain, so callers
// may add context with fmt.Errorf("...: %w"). Internal errors are logged
// by the caller and replaced with a generic message.
func classifyError(err error) (int, string, string) {
	if errors.Is(err, llm.ErrUnsupported) {
		return http.StatusNotImplemented, ErrorTypeNotImplemented, err.Error()
	}
	if services.IsInvalidArgument(err) {
		var ia *services.InvalidArgumentError
		errors.As(err, &ia)
		return http.StatusBadRequest, ErrorTypeInvalidRequest, ia.Message
	}
	if policy_engine.IsPolicyViolation(err) {
		return http.StatusUnprocessableEntity, ErrorTypePolicy, err.Error()
	}
	if te, ok := tools.AsToolError(err); ok {
		switch te.Kind {
		case tools.InvalidInput:
			return http.StatusBadRequest, ErrorTypeToolInput, te.Error()
		case tools.AuthenticationFailure:
			return http.StatusUnauthorized, ErrorTypeToolAuth, te.Error()
		case tools.UpstreamError:
			return http.StatusBadGateway, ErrorTypeToolUpstream, te.Error()
		case tools.NetworkFailure:
			return http.StatusBadGateway, ErrorTypeToolNetwork, te.Error()
		default:
			return http.StatusInternalServerError, ErrorTypeToolFailure, te.Error()
		}
	}
	if services.IsFormatError(err) {
		return http.StatusBadGateway, ErrorTypeFormat, err.Error()
	}
	var ue *services.UpstreamModelError
	if errors.As(err, &ue) {
		if ue.Unavailable() {
			return http.StatusServiceUnavailable, ErrorTypeUpstreamModel, err.Error()
		}
		return http.StatusBadGateway, ErrorTypeUpstreamModel, err.Error()
	}
	return http.StatusInternalServerError, ErrorTypeInternal, internalErrorMessage
}

// writeError is the single place handlers turn a failure into a response
// body of the form {message, errorType}.
func writeError(c *gin.Context, err error) {
	status, errorType, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.FullPath(), "status", status, "errorType", errorType, "error", err)
	} else {
		slog.Warn("Request rejected", "path", c.FullPath(), "status", status, "errorType", errorType, "error", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Message: message, ErrorType: errorType})
}

var errEmptyContent = errors.New("content must not be blank")

// writeBindError answers a request whose body failed to bind or validate.
func writeBindError(c *gin.Context, err error) {
	writeError(c, &services.InvalidArgumentError{Message: err.Error()})
}
