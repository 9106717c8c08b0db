// Copyright 2023 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package directory

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/united-manufacturing-hub/factory-agent/pkg/datamodel"
)

// TypeFromName infers the device type from the device name. The fleet uses a
// naming convention where the role is part of the identifier, for example
// Press1 or quality-station-3.
func TypeFromName(deviceID string) datamodel.DeviceType {
	lower := strings.ToLower(deviceID)
	switch {
	case strings.Contains(lower, "press"):
		return datamodel.DeviceTypePress
	case strings.Contains(lower, "conveyor"):
		return datamodel.DeviceTypeConveyor
	case strings.Contains(lower, "quality"):
		return datamodel.DeviceTypeQualityStation
	case strings.Contains(lower, "compressor"):
		return datamodel.DeviceTypeCompressor
	}
	return datamodel.DeviceTypeUnknown
}

var lineSuffixRegex = regexp.MustCompile(`(\d+)$`)

// SynthesizeLineMembers builds the canonical member list for a line whose
// membership cannot be read from the registry. One device per role, named by
// substituting the line's numeric suffix. Returns nil when the line id
// carries no numeric suffix.
func SynthesizeLineMembers(lineID string) []string {
	suffix := lineSuffixRegex.FindString(lineID)
	if suffix == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("Press%s", suffix),
		fmt.Sprintf("Conveyor%s", suffix),
		fmt.Sprintf("QualityStation%s", suffix),
		fmt.Sprintf("Compressor%s", suffix),
	}
}
