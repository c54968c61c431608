// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools holds the functions the model may call and the registry
// that dispatches them.
//
// Each tool is a ToolSpec: a name, a description and JSON schema the model
// sees, and a Handler that decodes the model's arguments. Failures are
// always *ToolError so callers can classify them without string matching.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AleutianAI/askai/services/llm"
)

// Tool names as the model sees them.
const (
	CurrentWeather         = "CurrentWeather"
	CurrentStockPrice      = "CurrentStockPrice"
	GenerateQRCode         = "generateQRCode"
	GetCustomerScore       = "getCustomerScore"
	GetCustomerScoreByName = "getCustomerScoreByName"
	GetCurrentDateTime     = "getCurrentDateTime"
	SetAlarm               = "setAlarm"
)

// Handler runs a tool with the raw JSON arguments produced by the model.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// ToolSpec describes one callable tool.
//
// When ReturnDirect is set the tool's result is the final answer and is
// returned to the client without another model turn.
type ToolSpec struct {
	Name         string
	Description  string
	Schema       map[string]any
	ReturnDirect bool
	Handler      Handler
}

// Definition converts the spec into the form passed to the model.
func (s ToolSpec) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.Schema,
	}
}

// Registry is an immutable name -> ToolSpec map. It is built once at
// startup and is safe for concurrent use.
type Registry struct {
	byName map[string]ToolSpec
}

// NewRegistry builds a registry from specs. A later spec with the same name
// replaces an earlier one.
func NewRegistry(specs ...ToolSpec) *Registry {
	byName := make(map[string]ToolSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	return &Registry{byName: byName}
}

func (r *Registry) Get(name string) (ToolSpec, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Names returns every registered name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns the named specs in the order given, or every spec sorted by
// name when no names are passed. Unknown names are skipped.
func (r *Registry) Specs(names ...string) []ToolSpec {
	if len(names) == 0 {
		names = r.Names()
	}
	out := make([]ToolSpec, 0, len(names))
	for _, n := range names {
		if s, ok := r.byName[n]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Definitions is Specs converted for the model.
func (r *Registry) Definitions(names ...string) []llm.ToolDefinition {
	specs := r.Specs(names...)
	defs := make([]llm.ToolDefinition, len(specs))
	for i, s := range specs {
		defs[i] = s.Definition()
	}
	return defs
}

// Invoke runs the named tool.
//
// # Description
//
// An unknown name is an InvalidInput error because it originates from the
// model's output. Empty arguments are treated as "{}". Any error a handler
// returns that is not already a *ToolError is wrapped as UnexpectedFailure.
//
// # Outputs
//
//   - any: The handler's result, ready to be marshalled for the model.
//   - error: Always a *ToolError on failure.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	spec, ok := r.byName[name]
	if !ok {
		return nil, invalidInput(name, fmt.Errorf("unknown tool %q", name))
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := spec.Handler(ctx, args)
	if err != nil {
		if IsToolError(err) {
			return nil, err
		}
		return nil, unexpected(name, err)
	}
	return result, nil
}

// decodeArgs unmarshals model arguments into dst. Bad JSON is the model's
// fault, so it is reported as InvalidInput.
func decodeArgs(tool string, args json.RawMessage, dst any) error {
	if err := json.Unmarshal(args, dst); err != nil {
		return invalidInput(tool, fmt.Errorf("decode arguments: %w", err))
	}
	return nil
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
