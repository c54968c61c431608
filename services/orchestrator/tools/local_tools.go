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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
)

// CustomerDirectory is the in-process source for customer scores.
type CustomerDirectory struct {
	customers []datatypes.CustomerScore
}

// DefaultCustomers is the directory the service ships with.
func DefaultCustomers() *CustomerDirectory {
	return NewCustomerDirectory(
		datatypes.CustomerScore{Name: "Eduardo Alvim", Score: 8.9},
		datatypes.CustomerScore{Name: "Jane Doe", Score: 9.1},
	)
}

func NewCustomerDirectory(customers ...datatypes.CustomerScore) *CustomerDirectory {
	return &CustomerDirectory{customers: append([]datatypes.CustomerScore(nil), customers...)}
}

// Lookup matches name case-insensitively after trimming.
func (d *CustomerDirectory) Lookup(name string) (datatypes.CustomerScore, bool) {
	name = strings.TrimSpace(name)
	for _, c := range d.customers {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return datatypes.CustomerScore{}, false
}

// CustomerScoreTools returns getCustomerScore, which lists every customer,
// and getCustomerScoreByName.
func CustomerScoreTools(dir *CustomerDirectory) []ToolSpec {
	return []ToolSpec{
		{
			Name:        GetCustomerScore,
			Description: "List the satisfaction score of every known customer.",
			Schema:      objectSchema(map[string]any{}),
			Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
				return &datatypes.CustomerScoreResult{
					Found:     len(dir.customers) > 0,
					Customers: append([]datatypes.CustomerScore(nil), dir.customers...),
				}, nil
			},
		},
		{
			Name:        GetCustomerScoreByName,
			Description: "Get the satisfaction score of one customer by full name.",
			Schema: objectSchema(map[string]any{
				"name": map[string]any{"type": "string", "description": "Customer full name"},
			}, "name"),
			Handler: func(_ context.Context, args json.RawMessage) (any, error) {
				var req datatypes.CustomerScoreRequest
				if err := decodeArgs(GetCustomerScoreByName, args, &req); err != nil {
					return nil, err
				}
				if err := req.Validate(); err != nil {
					return nil, invalidInput(GetCustomerScoreByName, err)
				}
				c, ok := dir.Lookup(req.Name)
				if !ok {
					return &datatypes.CustomerScoreResult{Found: false}, nil
				}
				return &datatypes.CustomerScoreResult{Found: true, Customers: []datatypes.CustomerScore{c}}, nil
			},
		},
	}
}

// Clock supplies the current time and the zone results are reported in.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// SystemClock is the local wall clock.
func SystemClock() Clock {
	return Clock{Now: time.Now, Location: time.Local}
}

func (c Clock) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// AlarmBook records alarms set through the setAlarm tool.
type AlarmBook struct {
	mu     sync.Mutex
	alarms []time.Time
}

// Alarms returns a copy of every alarm set so far.
func (b *AlarmBook) Alarms() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Time(nil), b.alarms...)
}

func (b *AlarmBook) add(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alarms = append(b.alarms, at)
}

// DateTimeTools returns getCurrentDateTime and setAlarm.
func DateTimeTools(clock Clock, book *AlarmBook) []ToolSpec {
	return []ToolSpec{
		{
			Name:        GetCurrentDateTime,
			Description: "Get the current date and time in the user's time zone.",
			Schema:      objectSchema(map[string]any{}),
			Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
				now := clock.now()
				return &datatypes.DateTimeResult{
					DateTime: now.Format(time.RFC3339),
					TimeZone: now.Location().String(),
				}, nil
			},
		},
		{
			Name:        SetAlarm,
			Description: "Set a user alarm for the given time, provided in ISO-8601 format.",
			Schema: objectSchema(map[string]any{
				"time": map[string]any{"type": "string", "description": "Alarm time in ISO-8601, e.g. 2025-05-01T07:30:00Z"},
			}, "time"),
			Handler: func(_ context.Context, args json.RawMessage) (any, error) {
				var req datatypes.AlarmRequest
				if err := decodeArgs(SetAlarm, args, &req); err != nil {
					return nil, err
				}
				if err := req.Validate(); err != nil {
					return nil, invalidInput(SetAlarm, err)
				}
				at, err := req.At()
				if err != nil {
					return nil, invalidInput(SetAlarm, fmt.Errorf("parse time: %w", err))
				}
				local := at.In(clock.now().Location())
				book.add(local)
				slog.Info("Alarm set", "at", local.Format(time.RFC3339))
				return &datatypes.AlarmResult{Set: true, At: local.Format(time.RFC3339)}, nil
			},
		},
	}
}
