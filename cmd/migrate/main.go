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

package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate"
	"github.com/provideplatform/ussd/common"

	_ "github.com/golang-migrate/migrate/database/postgres"
	_ "github.com/golang-migrate/migrate/source/file"
)

const defaultMigrationsPath = "./ops/migrations"

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// databaseURL builds the postgres url from the DATABASE_* environment
func databaseURL() string {
	dsn := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getenv("DATABASE_USER", "ussd"), os.Getenv("DATABASE_PASSWORD")),
		Host:   fmt.Sprintf("%s:%s", getenv("DATABASE_HOST", "localhost"), getenv("DATABASE_PORT", "5432")),
		Path:   getenv("DATABASE_NAME", "ussd_dev"),
	}
	query := url.Values{}
	query.Set("sslmode", getenv("DATABASE_SSL_MODE", "disable"))
	dsn.RawQuery = query.Encode()
	return dsn.String()
}

func migrationsURL() string {
	return fmt.Sprintf("file://%s", getenv("MIGRATIONS_PATH", defaultMigrationsPath))
}

func main() {
	m, err := migrate.New(migrationsURL(), databaseURL())
	if err != nil {
		common.Log.Panicf("migration initialization failed; %s", err.Error())
	}
	defer m.Close()

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		common.Log.Panicf("migrations failed; %s", err.Error())
	}
	if err == migrate.ErrNoChange {
		common.Log.Debug("no new migrations to apply")
		return
	}

	version, dirty, err := m.Version()
	if err != nil {
		common.Log.Warningf("failed to resolve schema version; %s", err.Error())
		return
	}
	common.Log.Debugf("migrated schema to version %d (dirty: %v)", version, dirty)
}
