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

// Dependencies are the collaborators the built-in tools need.
type Dependencies struct {
	Ninjas    *NinjasClient
	Customers *CustomerDirectory
	Clock     Clock
	Alarms    *AlarmBook
}

// DefaultRegistry registers every built-in tool. Nil collaborators fall
// back to their defaults.
func DefaultRegistry(deps Dependencies) *Registry {
	if deps.Ninjas == nil {
		deps.Ninjas = NewNinjasClient(NinjasConfig{})
	}
	if deps.Customers == nil {
		deps.Customers = DefaultCustomers()
	}
	if deps.Clock.Now == nil {
		deps.Clock = SystemClock()
	}
	if deps.Alarms == nil {
		deps.Alarms = &AlarmBook{}
	}

	specs := []ToolSpec{
		WeatherTool(deps.Ninjas),
		StockPriceTool(deps.Ninjas),
		QRCodeTool(deps.Ninjas),
	}
	specs = append(specs, CustomerScoreTools(deps.Customers)...)
	specs = append(specs, DateTimeTools(deps.Clock, deps.Alarms)...)
	return NewRegistry(specs...)
}
