// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"math"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// ValidateLatitude rejects NaN, infinities and values outside [-90, 90].
func ValidateLatitude(lat float64) error {
	if math.IsNaN(lat) || lat < MinLatitude || lat > MaxLatitude {
		return fmt.Errorf("latitude %v out of range [%v, %v]", lat, MinLatitude, MaxLatitude)
	}
	return nil
}

// ValidateLongitude rejects NaN, infinities and values outside [-180, 180].
func ValidateLongitude(lon float64) error {
	if math.IsNaN(lon) || lon < MinLongitude || lon > MaxLongitude {
		return fmt.Errorf("longitude %v out of range [%v, %v]", lon, MinLongitude, MaxLongitude)
	}
	return nil
}
