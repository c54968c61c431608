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
	"fmt"
	"strings"
)

// NotCapitalRelated is the sentinel the model writes into the capital field
// when a query is not about capital cities.
const NotCapitalRelated = "NOT_CAPITAL_RELATED"

// GetCapitalRequest names the state or country whose capital is requested.
type GetCapitalRequest struct {
	StateOrCountry string `json:"stateOrCountry" validate:"required,notblank,max=256"`
}

func (r *GetCapitalRequest) Validate() error {
	return validate.Struct(r)
}

// GetCapitalResponse carries only the capital city name.
type GetCapitalResponse struct {
	Answer string `json:"answer"`
}

// CapitalWithInfo is the structured capital record.
//
// # Description
//
// Parsed from model output, so every field is untrusted until Normalize
// has run. Population is a pointer so a missing value can be told apart
// from a real zero.
type CapitalWithInfo struct {
	StateOrCountry string `json:"stateOrCountry"`
	Capital        string `json:"capital"`
	Population     *int64 `json:"population"`
	Region         string `json:"region"`
	Language       string `json:"language"`
	Currency       string `json:"currency"`
}

// Normalize trims every text field and enforces population >= 0.
func (c *CapitalWithInfo) Normalize() error {
	c.StateOrCountry = strings.TrimSpace(c.StateOrCountry)
	c.Capital = strings.TrimSpace(c.Capital)
	c.Region = strings.TrimSpace(c.Region)
	c.Language = strings.TrimSpace(c.Language)
	c.Currency = strings.TrimSpace(c.Currency)

	if c.Capital == "" {
		return fmt.Errorf("capital cannot be empty")
	}
	if c.Population == nil {
		return fmt.Errorf("population cannot be null")
	}
	if *c.Population < 0 {
		return fmt.Errorf("population cannot be negative: %d", *c.Population)
	}
	return nil
}

// IsOutOfDomain reports whether the model flagged the query as unrelated
// to capitals, either with the sentinel or in prose.
func (c *CapitalWithInfo) IsOutOfDomain() bool {
	if c == nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(c.Capital), NotCapitalRelated) ||
		strings.Contains(c.Capital, "not related") ||
		strings.Contains(c.Capital, "Not applicable")
}

// FormattedString renders the record as a short paragraph for logs.
func (c *CapitalWithInfo) FormattedString() string {
	var population int64
	if c.Population != nil {
		population = *c.Population
	}
	return fmt.Sprintf("The capital of %s is %s.\nThe city has a population of %d.\n"+
		"The city is located in %s.\nThe primary language spoken is %s.\nThe currency used is %s.",
		c.StateOrCountry, c.Capital, population, c.Region, c.Language, c.Currency)
}
