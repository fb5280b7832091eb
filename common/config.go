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

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
)

const defaultPollInterval = time.Second
const defaultPollMaxRetries = 5
const defaultRequestTimeout = time.Second * 10
const defaultReplayTTL = time.Second * 30
const defaultSessionTTL = time.Second * 180
const defaultStatementLimit = 9
const defaultTokenDecimals = 6

var (
	// Log is the configured logger
	Log *logger.Logger

	// ConsumeNATSStreamingSubscriptions is a flag the indicates if the ussd instance is running in API or consumer mode
	ConsumeNATSStreamingSubscriptions bool
)

// Config is the immutable configuration context for a ussd instance; it is
// resolved once at startup and passed explicitly to every component
type Config struct {
	// ServiceCodes are the USSD service codes this instance answers; the first is advertised as canonical
	ServiceCodes []string
	// JSONServiceCodes are service codes whose provider expects the JSON response envelope
	JSONServiceCodes []string

	SupportPhone    string
	Region          string
	ChainSpec       string
	OfficeSenderTag string
	TimeZone        *time.Location

	DefaultTokenSymbol   string
	DefaultTokenDecimals int32

	LocalePath     string
	LocaleFallback string
	LanguagesFile  string
	MachineFile    string

	SessionTTL     time.Duration
	ReplayTTL      time.Duration
	PollInterval   time.Duration
	PollMaxRetries int
	RequestTimeout time.Duration
	StatementLimit int

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	RateLimitRPS   float64
	RateLimitBurst int

	RestrictSameTokenTransfers bool
	AdminAPIToken              string

	// OrganizationTag is recorded on accounts and profiles created by this instance
	OrganizationTag string

	Port int
}

func init() {
	godotenv.Load()

	requireLogger()

	ConsumeNATSStreamingSubscriptions = strings.ToLower(os.Getenv("CONSUME_NATS_STREAMING_SUBSCRIPTIONS")) == "true"
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("ussd", lvl, endpoint)
}

// LoadConfig resolves the configuration context from the environment
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServiceCodes:     splitList(os.Getenv("USSD_SERVICE_CODES")),
		JSONServiceCodes: splitList(os.Getenv("USSD_JSON_SERVICE_CODES")),

		SupportPhone:    os.Getenv("SUPPORT_PHONE"),
		Region:          envOrDefault("E164_REGION", "KE"),
		ChainSpec:       envOrDefault("CHAIN_SPEC", "evm:byzantium:8996:bloxberg"),
		OfficeSenderTag: envOrDefault("OFFICE_SENDER_TAG", "OFFICE"),

		DefaultTokenSymbol: strings.ToUpper(os.Getenv("DEFAULT_TOKEN_SYMBOL")),

		LocalePath:     envOrDefault("LOCALE_PATH", "ops/locale"),
		LocaleFallback: envOrDefault("LOCALE_FALLBACK", "en"),
		LanguagesFile:  envOrDefault("LANGUAGES_FILE", "ops/languages.yaml"),
		MachineFile:    envOrDefault("MACHINE_FILE", "ops/machine.yaml"),

		RedisHost:     envOrDefault("REDIS_HOST", "localhost"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		RestrictSameTokenTransfers: strings.ToLower(os.Getenv("RESTRICT_SAME_TOKEN_TRANSFERS")) == "true",
		AdminAPIToken:              os.Getenv("ADMIN_API_TOKEN"),
		OrganizationTag:            os.Getenv("ORGANIZATION_TAG"),
	}

	if len(cfg.ServiceCodes) == 0 {
		return nil, &InitializationError{Reason: "USSD_SERVICE_CODES is required"}
	}

	loc, err := time.LoadLocation(envOrDefault("TIME_ZONE", "Africa/Nairobi"))
	if err != nil {
		return nil, &InitializationError{Reason: fmt.Sprintf("invalid TIME_ZONE; %s", err.Error())}
	}
	cfg.TimeZone = loc

	var decimals int
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"SESSION_TTL", &cfg.SessionTTL, defaultSessionTTL},
		{"REPLAY_TTL", &cfg.ReplayTTL, defaultReplayTTL},
		{"POLL_INTERVAL", &cfg.PollInterval, defaultPollInterval},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout, defaultRequestTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationOrDefault(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"POLL_MAX_RETRIES", &cfg.PollMaxRetries, defaultPollMaxRetries},
		{"STATEMENT_LIMIT", &cfg.StatementLimit, defaultStatementLimit},
		{"DEFAULT_TOKEN_DECIMALS", &decimals, defaultTokenDecimals},
		{"REDIS_PORT", &cfg.RedisPort, 6379},
		{"REDIS_DB", &cfg.RedisDB, 0},
		{"RATE_LIMIT_BURST", &cfg.RateLimitBurst, 5},
		{"PORT", &cfg.Port, 8080},
	}
	for _, i := range ints {
		if *i.dst, err = intOrDefault(i.key, i.def); err != nil {
			return nil, err
		}
	}
	cfg.DefaultTokenDecimals = int32(decimals)

	cfg.RateLimitRPS = 1
	if rps := os.Getenv("RATE_LIMIT_RPS"); rps != "" {
		cfg.RateLimitRPS, err = strconv.ParseFloat(rps, 64)
		if err != nil {
			return nil, &InitializationError{Reason: fmt.Sprintf("invalid RATE_LIMIT_RPS; %s", err.Error())}
		}
	}

	return cfg, nil
}

// IsValidServiceCode returns true if the given service code is served by this instance
func (c *Config) IsValidServiceCode(code string) bool {
	return ContainsString(c.ServiceCodes, code)
}

// UsesJSONEnvelope returns true if responses for the given service code are wrapped in the JSON envelope
func (c *Config) UsesJSONEnvelope(code string) bool {
	return ContainsString(c.JSONServiceCodes, code)
}

// RedisAddr returns the host:port of the shared cache
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func envOrDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func durationOrDefault(key string, def time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, &InitializationError{Reason: fmt.Sprintf("invalid %s; %s", key, err.Error())}
	}
	return d, nil
}

func intOrDefault(key string, def int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, &InitializationError{Reason: fmt.Sprintf("invalid %s; %s", key, err.Error())}
	}
	return i, nil
}

func splitList(val string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
