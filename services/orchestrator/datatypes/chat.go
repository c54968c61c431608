// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"

	"github.com/AleutianAI/askai/pkg/validation"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQuestionBytes caps a single question or tool payload (32KB).
	MaxQuestionBytes = 32 * 1024

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// =============================================================================
// Validator
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = validate.RegisterValidation("lat_range", validateLatitude)
	_ = validate.RegisterValidation("lon_range", validateLongitude)
	_ = validate.RegisterValidation("ticker", validateTicker)
	_ = validate.RegisterValidation("notblank", validateNotBlank)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

func validateLatitude(fl validator.FieldLevel) bool {
	return validation.ValidateLatitude(fl.Field().Float()) == nil
}

func validateLongitude(fl validator.FieldLevel) bool {
	return validation.ValidateLongitude(fl.Field().Float()) == nil
}

func validateTicker(fl validator.FieldLevel) bool {
	return validation.ValidateTicker(fl.Field().String()) == nil
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Chat Messages
// =============================================================================

// Message is one turn of a model conversation.
//
// Tool invocation requests from the model arrive as ToolCalls on an
// assistant message; each result is sent back as a RoleTool message whose
// ToolCallID matches the request.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model request to run a registered tool.
type ToolCall struct {
	Id       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the tool name and its JSON encoded arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// SystemMessage, UserMessage and AssistantMessage build plain text turns.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage answers the tool call identified by callID.
func ToolResultMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Name: name, Content: content}
}

// =============================================================================
// Question / Answer
// =============================================================================

// Question is the request body of every text endpoint.
type Question struct {
	Question string `json:"question" validate:"required,notblank,maxbytes"`
}

// Validate checks that the question is present and within size limits.
func (q *Question) Validate() error {
	return validate.Struct(q)
}

// Answer is the response body of every text endpoint.
type Answer struct {
	Answer string `json:"answer"`
}

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Message   string `json:"message"`
	ErrorType string `json:"errorType"`
}
