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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultDocumentClass is the Weaviate class holding ingested chunks.
const DefaultDocumentClass = "Document"

// GetDocumentSchema describes the chunk class. Vectors are supplied by the
// ingester, so the class has no vectorizer module.
func GetDocumentSchema(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "A chunk of an ingested document with its source file.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source_file",
				DataType:        []string{"text"},
				Description:     "Path of the file the chunk was split from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingestion_timestamp",
				DataType:        []string{"number"},
				Description:     "Unix ms timestamp of ingestion.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the chunk class when it does not exist yet.
//
// # Description
//
// The class getter returns an error for a missing class, which is the
// signal to create it. An existing class is left untouched.
//
// # Outputs
//
//   - error: Non-nil if the class could not be created.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client, className string) error {
	class := GetDocumentSchema(className)
	slog.Info("Checking schema", "class", class.Class)

	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
