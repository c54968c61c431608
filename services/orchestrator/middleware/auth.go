// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
)

// BearerAuth rejects requests whose Authorization header does not carry
// the configured token.
//
// # Description
//
// An empty token disables the check. Comparison is constant time.
//
// # Inputs
//
//   - token: Expected bearer token. Empty allows every request.
//
// # Outputs
//
//   - gin.HandlerFunc: Aborts with 401 {message, errorType} on mismatch.
func BearerAuth(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(extractBearerToken(c))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorResponse{
				Message:   "unauthorized",
				ErrorType: "Unauthorized",
			})
			return
		}
		c.Next()
	}
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
// It returns "" when the header is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
