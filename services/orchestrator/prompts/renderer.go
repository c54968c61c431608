// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts renders the static prompt templates used by the chat
// orchestrator.
//
// # Description
//
// Templates are plain text with {name} placeholders. A brace that does not
// open a valid identifier is literal text, so JSON examples can be written
// unescaped; \{ and \} force a literal brace anywhere. Substituted values are
// never rescanned, so user input containing braces is inserted verbatim.
//
// # Usage
//
//	r, err := prompts.New()
//	if err != nil {
//	    return err
//	}
//	text, err := r.Render(prompts.CapitalPrompt, map[string]string{
//	    "stateOrCountry": "France",
//	    "format":         format,
//	})
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed templates/*.st
var templateFS embed.FS

// Template names shipped with the binary.
const (
	CapitalPrompt         = "get-capital-prompt"
	CapitalWithInfoPrompt = "get-capital-with-info"
	CapitalFormat         = "capital-format"
	CapitalInfoFormat     = "capital-info-format"
	CapitalGuardSystem    = "capital-guard-system"
	CapitalStrictSystem   = "capital-strict-system"
	RAGPrompt             = "rag-prompt-template-meta"
	RAGSystem             = "system-message"
	WeatherSystem         = "weather-system"
	StockSystem           = "stock-system"
	QRCodeSystem          = "qrcode-system"
	SearchSystem          = "search-system"
	ReReading             = "re-reading"
	VisionPrompt          = "vision-prompt"
)

// TemplateError reports a template that is unknown or that references
// placeholders with no supplied value.
type TemplateError struct {
	Template string
	Missing  []string
}

func (e *TemplateError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("template %q not found", e.Template)
	}
	return fmt.Sprintf("template %q: missing values for %s", e.Template, strings.Join(e.Missing, ", "))
}

// segment is either literal text or a placeholder name.
type segment struct {
	text        string
	placeholder bool
}

// Template is a parsed, immutable template.
type Template struct {
	name         string
	segments     []segment
	placeholders []string
}

// Parse splits text into literal and placeholder segments.
func Parse(name, text string) *Template {
	t := &Template{name: name}
	seen := map[string]bool{}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && i+1 < len(text) && (text[i+1] == '{' || text[i+1] == '}'):
			lit.WriteByte(text[i+1])
			i++
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 || !isIdentifier(text[i+1:i+1+end]) {
				lit.WriteByte(c)
				continue
			}
			key := text[i+1 : i+1+end]
			flush()
			t.segments = append(t.segments, segment{text: key, placeholder: true})
			if !seen[key] {
				seen[key] = true
				t.placeholders = append(t.placeholders, key)
			}
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Placeholders lists the distinct placeholders in order of first use.
func (t *Template) Placeholders() []string {
	return append([]string(nil), t.placeholders...)
}

// Render substitutes vars. Every placeholder must have an entry in vars;
// an empty string is a valid value.
func (t *Template) Render(vars map[string]string) (string, error) {
	var missing []string
	for _, p := range t.placeholders {
		if _, ok := vars[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return "", &TemplateError{Template: t.name, Missing: missing}
	}

	var out strings.Builder
	for _, s := range t.segments {
		if s.placeholder {
			out.WriteString(vars[s.text])
		} else {
			out.WriteString(s.text)
		}
	}
	return out.String(), nil
}

// RenderText parses and renders an ad hoc template in one step.
func RenderText(text string, vars map[string]string) (string, error) {
	return Parse("inline", text).Render(vars)
}

// Renderer holds the named templates loaded at startup.
type Renderer struct {
	templates map[string]*Template
}

// New loads the templates embedded in the binary.
func New() (*Renderer, error) {
	return NewFromFS(templateFS, "templates")
}

// NewFromFS loads every *.st file under dir. The template name is the file
// name without extension; one trailing newline is dropped.
func NewFromFS(fsys fs.FS, dir string) (*Renderer, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir %s: %w", dir, err)
	}

	r := &Renderer{templates: make(map[string]*Template, len(entries))}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".st" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".st")
		text := strings.TrimSuffix(string(data), "\n")
		r.templates[name] = Parse(name, text)
	}
	return r, nil
}

// Render renders the named template.
func (r *Renderer) Render(name string, vars map[string]string) (string, error) {
	t, ok := r.templates[name]
	if !ok {
		return "", &TemplateError{Template: name}
	}
	return t.Render(vars)
}

// MustText returns a template that takes no placeholders. It panics for
// unknown templates and is meant for constant system prompts.
func (r *Renderer) MustText(name string) string {
	text, err := r.Render(name, nil)
	if err != nil {
		panic(err)
	}
	return text
}

// Names lists the loaded templates, sorted.
func (r *Renderer) Names() []string {
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
