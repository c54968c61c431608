// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine classifies document content against embedded
// regex rules and rejects documents carrying credentials before they are
// ingested.
package policy_engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/askai/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// ClassificationPublic is reported when no rule matches.
const ClassificationPublic = "public"

// PolicyEngine holds compiled classifications, highest priority first. It
// is immutable after construction and safe for concurrent use.
type PolicyEngine struct {
	Classifiers []Classification
}

// NewPolicyEngine loads the embedded rule file.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromYAML(enforcement.DataClassificationPatterns)
}

// NewPolicyEngineFromYAML loads rules from data, for custom rule sets and
// tests.
func NewPolicyEngineFromYAML(data []byte) (*PolicyEngine, error) {
	var file ClassificationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}
	if len(file.Classifications) == 0 {
		return nil, errors.New("policy file defines no classifications")
	}
	if err := file.compile(); err != nil {
		return nil, err
	}
	return &PolicyEngine{Classifiers: file.Classifications}, nil
}

// ClassifyData returns the name of the highest priority classification
// with any match, or "public".
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers {
		for _, p := range classifier.Patterns {
			if p.compiled.Match(data) {
				return classifier.Name
			}
		}
	}
	return ClassificationPublic
}

// Scan reports every match line by line, in line order and then rule
// priority order.
func (e *PolicyEngine) Scan(source, content string) []ScanFinding {
	var findings []ScanFinding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, classifier := range e.Classifiers {
			for _, p := range classifier.Patterns {
				match := p.compiled.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					Source:             source,
					LineNumber:         lineNum + 1,
					MatchedContent:     redact(strings.TrimSpace(match)),
					ClassificationName: classifier.Name,
					Action:             classifier.Action,
					PatternId:          p.Id,
					PatternDescription: p.Description,
					Confidence:         p.Confidence,
				})
			}
		}
	}
	return findings
}

// Check scans content and returns a *PolicyViolationError when any
// blocking rule matches. Warn-level findings are logged.
func (e *PolicyEngine) Check(source, content string) error {
	var blocked []ScanFinding
	for _, f := range e.Scan(source, content) {
		if f.Action == ActionBlock {
			blocked = append(blocked, f)
			continue
		}
		slog.Warn("Document matched a data classification rule",
			"source", f.Source,
			"line", f.LineNumber,
			"classification", f.ClassificationName,
			"pattern", f.PatternId,
		)
	}
	if len(blocked) > 0 {
		return &PolicyViolationError{Source: source, Findings: blocked}
	}
	return nil
}

// redact keeps the first four characters of a match.
func redact(match string) string {
	const keep = 4
	if len(match) <= keep {
		return strings.Repeat("*", len(match))
	}
	return match[:keep] + strings.Repeat("*", min(len(match)-keep, 12))
}

// PolicyViolationError reports the blocking findings of one document.
type PolicyViolationError struct {
	Source   string
	Findings []ScanFinding
}

func (e *PolicyViolationError) Error() string {
	ids := make([]string, 0, len(e.Findings))
	seen := map[string]bool{}
	for _, f := range e.Findings {
		if !seen[f.PatternId] {
			seen[f.PatternId] = true
			ids = append(ids, f.PatternId)
		}
	}
	return fmt.Sprintf("%s was rejected by data policy: %d finding(s) (%s)",
		e.Source, len(e.Findings), strings.Join(ids, ", "))
}

// IsPolicyViolation reports whether err is or wraps a *PolicyViolationError.
func IsPolicyViolation(err error) bool {
	var target *PolicyViolationError
	return errors.As(err, &target)
}
