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

import "time"

// =============================================================================
// Weather
// =============================================================================

// WeatherRequest is the argument of the CurrentWeather tool. The
// coordinates are pointers so a missing or null value is told apart from 0.
type WeatherRequest struct {
	Lat *float64 `json:"lat" validate:"required,lat_range"`
	Lon *float64 `json:"lon" validate:"required,lon_range"`
}

func (r *WeatherRequest) Validate() error {
	return validate.Struct(r)
}

// WeatherResponse mirrors the upstream weather API payload.
type WeatherResponse struct {
	Location    string  `json:"location,omitempty"`
	WindSpeed   float64 `json:"wind_speed"`
	WindDegrees int     `json:"wind_degrees"`
	Temp        float64 `json:"temp"`
	Humidity    int     `json:"humidity"`
	Sunset      int64   `json:"sunset"`
	Sunrise     int64   `json:"sunrise"`
	MinTemp     float64 `json:"min_temp"`
	CloudPct    int     `json:"cloud_pct"`
	FeelsLike   float64 `json:"feels_like"`
	MaxTemp     float64 `json:"max_temp"`
}

// =============================================================================
// Stock Price
// =============================================================================

// StockPriceRequest is the argument of the CurrentStockPrice tool. Ticker
// must already be upper case; callers normalize with validation.SanitizeTicker.
type StockPriceRequest struct {
	Ticker string `json:"ticker" validate:"required,ticker"`
}

func (r *StockPriceRequest) Validate() error {
	return validate.Struct(r)
}

// StockPriceResponse is the upstream quote. Found is false when the API
// returned an empty body for the ticker.
type StockPriceResponse struct {
	Found    bool    `json:"found"`
	Ticker   string  `json:"ticker,omitempty"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Exchange string  `json:"exchange,omitempty"`
	Updated  int64   `json:"updated,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// =============================================================================
// QR Code
// =============================================================================

// QRCodeRequest is the argument of the generateQRCode tool.
type QRCodeRequest struct {
	Data   string `json:"data" validate:"required,notblank,maxbytes"`
	Format string `json:"format" validate:"omitempty,oneof=png jpg svg eps"`
}

func (r *QRCodeRequest) Validate() error {
	return validate.Struct(r)
}

// EnsureDefaults falls back to PNG when no format was given.
func (r *QRCodeRequest) EnsureDefaults() {
	if r.Format == "" {
		r.Format = "png"
	}
}

// QRCodeResponse holds the raw image bytes returned by the QR API.
type QRCodeResponse struct {
	ImageData   []byte `json:"imageData"`
	ContentType string `json:"contentType"`
}

// =============================================================================
// Customer Score
// =============================================================================

type CustomerScoreRequest struct {
	Name string `json:"name" validate:"required,notblank"`
}

func (r *CustomerScoreRequest) Validate() error {
	return validate.Struct(r)
}

type CustomerScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// CustomerScoreResult is what the model sees. Found is false for an
// unknown customer so the model can phrase a not-found answer.
type CustomerScoreResult struct {
	Found     bool            `json:"found"`
	Customers []CustomerScore `json:"customers,omitempty"`
}

// =============================================================================
// Date / Time
// =============================================================================

type DateTimeResult struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// AlarmRequest carries an ISO-8601 timestamp, e.g. 2025-05-01T07:30:00Z.
type AlarmRequest struct {
	Time string `json:"time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

func (r *AlarmRequest) Validate() error {
	return validate.Struct(r)
}

// At parses the validated timestamp.
func (r *AlarmRequest) At() (time.Time, error) {
	return time.Parse(time.RFC3339, r.Time)
}

type AlarmResult struct {
	Set bool   `json:"set"`
	At  string `json:"at"`
}
