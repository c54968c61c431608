// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// ConfidenceLevel rates how likely a pattern match is a true positive.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch level := ConfidenceLevel(s); level {
	case High, Medium, Low:
		*c = level
		return nil
	default:
		return fmt.Errorf("invalid value for confidence: %q", s)
	}
}

// Action is what ingestion does with a document that matches a
// classification.
type Action string

const (
	// ActionBlock rejects the document.
	ActionBlock Action = "block"
	// ActionWarn logs the finding and ingests the document.
	ActionWarn Action = "warn"
)

func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch action := Action(s); action {
	case ActionBlock, ActionWarn:
		*a = action
		return nil
	case "":
		*a = ActionWarn
		return nil
	default:
		return fmt.Errorf("invalid value for action: %q", s)
	}
}

// ClassificationFile is the YAML rule document.
type ClassificationFile struct {
	Classifications []Classification `yaml:"classifications"`
}

type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Action      Action    `yaml:"action"`
	Patterns    []Pattern `yaml:"patterns"`
}

type Pattern struct {
	Id          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`
	compiled    *regexp.Regexp
}

// compile prepares every pattern and orders classifications from highest
// to lowest priority.
func (f *ClassificationFile) compile() error {
	for i := range f.Classifications {
		c := &f.Classifications[i]
		if c.Action == "" {
			c.Action = ActionWarn
		}
		for j := range c.Patterns {
			p := &c.Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex for %s: %w", p.Id, err)
			}
			p.compiled = re
		}
	}
	sort.SliceStable(f.Classifications, func(i, j int) bool {
		return f.Classifications[i].Priority > f.Classifications[j].Priority
	})
	return nil
}

// ScanFinding is one pattern match. MatchedContent is redacted so findings
// can be logged and returned to clients.
type ScanFinding struct {
	Source             string          `json:"source"`
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	Action             Action          `json:"action"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
