// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/AleutianAI/askai/pkg/validation"
	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
)

// WeatherTool reports current conditions for a coordinate pair. Both
// coordinates must be present and in range before any request is made.
func WeatherTool(client *NinjasClient) ToolSpec {
	return ToolSpec{
		Name:        CurrentWeather,
		Description: "Get the current weather for a location given its latitude and longitude.",
		Schema: objectSchema(map[string]any{
			"lat": map[string]any{"type": "number", "description": "Latitude in degrees, -90 to 90"},
			"lon": map[string]any{"type": "number", "description": "Longitude in degrees, -180 to 180"},
		}, "lat", "lon"),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var req datatypes.WeatherRequest
			if err := decodeArgs(CurrentWeather, args, &req); err != nil {
				return nil, err
			}
			if err := req.Validate(); err != nil {
				return nil, invalidInput(CurrentWeather, err)
			}

			query := url.Values{}
			query.Set("lat", strconv.FormatFloat(*req.Lat, 'f', -1, 64))
			query.Set("lon", strconv.FormatFloat(*req.Lon, 'f', -1, 64))
			body, _, err := client.get(ctx, CurrentWeather, "/v1/weather", query, "application/json")
			if err != nil {
				return nil, err
			}

			var resp datatypes.WeatherResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, unexpected(CurrentWeather, fmt.Errorf("decode weather: %w", err))
			}
			return &resp, nil
		},
	}
}

// StockPriceTool looks up the latest quote for a ticker. An empty upstream
// payload is a soft not-found, reported as Found=false.
func StockPriceTool(client *NinjasClient) ToolSpec {
	return ToolSpec{
		Name:        CurrentStockPrice,
		Description: "Get the current stock price for a ticker symbol such as AAPL.",
		Schema: objectSchema(map[string]any{
			"ticker": map[string]any{"type": "string", "description": "Stock ticker symbol, e.g. AAPL"},
		}, "ticker"),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var req datatypes.StockPriceRequest
			if err := decodeArgs(CurrentStockPrice, args, &req); err != nil {
				return nil, err
			}
			ticker, err := validation.SanitizeTicker(req.Ticker)
			if err != nil {
				return nil, invalidInput(CurrentStockPrice, err)
			}
			req.Ticker = ticker
			if err := req.Validate(); err != nil {
				return nil, invalidInput(CurrentStockPrice, err)
			}

			query := url.Values{}
			query.Set("ticker", req.Ticker)
			body, _, err := client.get(ctx, CurrentStockPrice, "/v1/stockprice", query, "application/json")
			if err != nil {
				return nil, err
			}
			return parseStockPrice(req.Ticker, body)
		},
	}
}

func parseStockPrice(ticker string, body []byte) (*datatypes.StockPriceResponse, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "{}" || trimmed == "[]" {
		return &datatypes.StockPriceResponse{Found: false, Ticker: ticker}, nil
	}

	var resp datatypes.StockPriceResponse
	if strings.HasPrefix(trimmed, "[") {
		var list []datatypes.StockPriceResponse
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, unexpected(CurrentStockPrice, fmt.Errorf("decode stock price: %w", err))
		}
		if len(list) == 0 {
			return &datatypes.StockPriceResponse{Found: false, Ticker: ticker}, nil
		}
		resp = list[0]
	} else if err := json.Unmarshal(body, &resp); err != nil {
		return nil, unexpected(CurrentStockPrice, fmt.Errorf("decode stock price: %w", err))
	}
	resp.Found = true
	if resp.Ticker == "" {
		resp.Ticker = ticker
	}
	return &resp, nil
}

// QRCodeTool renders data as a QR image. Its bytes are the final answer.
func QRCodeTool(client *NinjasClient) ToolSpec {
	return ToolSpec{
		Name:         GenerateQRCode,
		Description:  "Generate a QR code image that encodes the given text or URL.",
		ReturnDirect: true,
		Schema: objectSchema(map[string]any{
			"data":   map[string]any{"type": "string", "description": "Text or URL to encode"},
			"format": map[string]any{"type": "string", "enum": []string{"png", "jpg", "svg", "eps"}},
		}, "data"),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var req datatypes.QRCodeRequest
			if err := decodeArgs(GenerateQRCode, args, &req); err != nil {
				return nil, err
			}
			req.EnsureDefaults()
			if err := req.Validate(); err != nil {
				return nil, invalidInput(GenerateQRCode, err)
			}

			accept := qrContentType(req.Format)
			query := url.Values{}
			query.Set("data", req.Data)
			query.Set("format", req.Format)
			body, contentType, err := client.get(ctx, GenerateQRCode, "/v1/qrcode", query, accept)
			if err != nil {
				return nil, err
			}
			if len(body) == 0 {
				return nil, unexpected(GenerateQRCode, fmt.Errorf("empty image body"))
			}

			// without a matching Accept header the API answers with base64 text
			if !strings.HasPrefix(contentType, accept) && !strings.HasPrefix(contentType, "image/") {
				decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(body)))
				if err != nil {
					return nil, unexpected(GenerateQRCode, fmt.Errorf("decode base64 image: %w", err))
				}
				body = decoded
			}
			return &datatypes.QRCodeResponse{ImageData: body, ContentType: accept}, nil
		},
	}
}

func qrContentType(format string) string {
	switch format {
	case "jpg":
		return "image/jpeg"
	case "svg":
		return "image/svg+xml"
	case "eps":
		return "application/postscript"
	default:
		return "image/png"
	}
}
