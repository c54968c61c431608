// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user and model supplied arguments before they
// reach an outbound API call.
//
// Every tool argument produced by the model passes through one of these
// validators, so a malformed or hostile value is rejected before the request
// is built.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// tickerPattern matches exchange ticker symbols such as AAPL, BRK.A or BF-B.
var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,9}$`)

// ValidateTicker reports whether ticker is a well formed, already normalized
// ticker symbol.
//
// Valid tickers are 1-10 characters of uppercase letters, digits, dots and
// hyphens, starting with a letter or digit.
func ValidateTicker(ticker string) error {
	if ticker == "" {
		return fmt.Errorf("ticker cannot be empty")
	}
	if !tickerPattern.MatchString(ticker) {
		return fmt.Errorf("invalid ticker format: %q (must be 1-10 uppercase alphanumeric chars, dots, or hyphens)", ticker)
	}
	return nil
}

// SanitizeTicker trims and upper-cases ticker, then validates it.
//
// The model frequently emits tickers in lower case ("aapl"), so callers
// should prefer this over ValidateTicker for model supplied input.
//
//	ticker, err := validation.SanitizeTicker(args.Ticker)
//	if err != nil {
//	    return nil, err
//	}
func SanitizeTicker(ticker string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(ticker))
	if err := ValidateTicker(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
