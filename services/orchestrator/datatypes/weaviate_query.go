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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse decodes the Data section of a GraphQL response into T.
//
// # Description
//
// The Weaviate client returns map[string]models.JSONObject; round-tripping
// through JSON is the simplest way into a typed struct.
//
// # Outputs
//
//   - *T: Decoded data.
//   - error: Non-nil for a nil response, GraphQL errors, or a shape mismatch.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// DocumentQueryResponse is the Get{<Class>{...}} result of a chunk search.
// The class name is configurable, so results are keyed by class.
type DocumentQueryResponse struct {
	Get map[string][]DocumentResult `json:"Get"`
}

// AggregateCountResponse is the Aggregate{<Class>{meta{count}}} result.
type AggregateCountResponse struct {
	Aggregate map[string][]struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	} `json:"Aggregate"`
}

type DocumentResult struct {
	Content    string  `json:"content"`
	SourceFile string  `json:"source_file"`
	IngestedAt float64 `json:"ingestion_timestamp"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
	} `json:"_additional"`
}
