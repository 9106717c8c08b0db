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

// Package database holds the schema introspection helpers shared by the
// migrations.
package database

import (
	"database/sql"

	"go.uber.org/zap"
)

// TableExists reports whether a table is present in the public schema.
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		tableName).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func CheckIfColumnExists(colName, tableName string, db *sql.DB) (bool, error) {
	var columnExists bool
	err := db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = $1 AND column_name = $2)`,
		tableName,
		colName).Scan(&columnExists)
	if err != nil {
		return false, err
	}
	zap.S().Infof("Column %v exists in table %v: %v", colName, tableName, columnExists)
	return columnExists, nil
}
