/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package dbtest opens in-memory sqlite databases carrying the service schema for unit tests.
package dbtest

import (
	"testing"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite" // sqlite dialect for unit tests
)

// schema mirrors ops/migrations in a dialect sqlite accepts; the gorm v1 tags
// on provide.Model carry postgres function defaults which sqlite rejects
var schema = []string{
	`CREATE TABLE accounts (
		id text NOT NULL PRIMARY KEY,
		created_at datetime NOT NULL,
		updated_at datetime,
		phone_number text NOT NULL,
		blockchain_address text NOT NULL,
		password_hash text,
		failed_pin_attempts integer NOT NULL DEFAULT 0,
		status integer NOT NULL DEFAULT 1,
		guardians text,
		organization_tag text
	)`,
	`CREATE UNIQUE INDEX idx_accounts_phone_number ON accounts (phone_number)`,
	`CREATE TABLE ussd_sessions (
		id text NOT NULL PRIMARY KEY,
		created_at datetime NOT NULL,
		updated_at datetime,
		external_session_id text NOT NULL,
		msisdn text NOT NULL,
		service_code text,
		state text NOT NULL,
		user_input text,
		data text,
		version bigint NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX idx_ussd_sessions_external_session_id ON ussd_sessions (external_session_id)`,
	`CREATE TABLE survey_responses (
		id text NOT NULL PRIMARY KEY,
		created_at datetime NOT NULL,
		phone_number text NOT NULL,
		village text,
		gender text,
		economic_activity text,
		monthly_expenditure text,
		expenditure_band text
	)`,
	`CREATE UNIQUE INDEX idx_survey_responses_phone_number ON survey_responses (phone_number)`,
	`CREATE TABLE tx_meta (
		id text NOT NULL PRIMARY KEY,
		created_at datetime NOT NULL,
		tx_reason text,
		tx_from text NOT NULL,
		tx_to text NOT NULL,
		tx_amount text NOT NULL
	)`,
}

// Open returns an in-memory database with the schema applied; it is closed when t completes
func Open(t *testing.T) *gorm.DB {
	db, err := gorm.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite database; %s", err.Error())
	}
	db.DB().SetMaxOpenConns(1)
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			db.Close()
			t.Fatalf("failed to apply test schema; %s", err.Error())
		}
	}
	t.Cleanup(func() { db.Close() })
	return db
}
