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

// Package migrations upgrades the persisted schema between releases. Each
// migration checks the live schema itself, so re-running an already applied
// one is safe.
package migrations

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_2 "github.com/united-manufacturing-hub/factory-agent/cmd/automigrate/migrations/0/2"
	"go.uber.org/zap"
)

// SemVer is the deployment version parsed from the VERSION environment
// variable.
type SemVer struct {
	Major uint64
	Minor uint64
	Patch uint64
}

func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v is the same or a later release than other.
func (v SemVer) AtLeast(other SemVer) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor > other.Minor
	}
	return v.Patch >= other.Patch
}

// StringToSemver parses MAJOR.MINOR.PATCH with an optional "v" prefix.
// Pre-release and build metadata suffixes are ignored.
func StringToSemver(version string) (SemVer, bool) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if i := strings.IndexAny(version, "-+"); i != -1 {
		version = version[:i]
	}
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return SemVer{}, false
	}
	var parsed [3]uint64
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return SemVer{}, false
		}
		parsed[i] = n
	}
	return SemVer{Major: parsed[0], Minor: parsed[1], Patch: parsed[2]}, true
}

type migration struct {
	apply   func(db *sql.DB) error
	version SemVer
}

// Migrate applies every listed migration up to and including the deployment
// version, oldest first.
func Migrate(deployment SemVer, db *sql.DB) {
	for _, m := range migrationsList {
		if !deployment.AtLeast(m.version) {
			zap.S().Infof("Skipping migration %s, deployment is %s", m.version, deployment)
			continue
		}
		if err := m.apply(db); err != nil {
			zap.S().Fatalf("Migration %s failed: %s", m.version, err)
		}
	}
}

// migrationsList must stay ordered oldest to newest.
var migrationsList = []migration{
	{version: SemVer{Major: 0, Minor: 2, Patch: 0}, apply: _2.V0x2x0},
}
