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

package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Session data keys shared by guards, actions and menu rendering
const (
	DataAccountTokens       = "account_tokens_list"
	DataEconomicActivity    = "economic_activity"
	DataFailureReason       = "failure_reason"
	DataFullName            = "full_name"
	DataGender              = "gender"
	DataGuardedAccountPhone = "guarded_account_phone_number"
	DataGuardianPhone       = "guardian_phone_number"
	DataInitialPin          = "initial_pin"
	DataMonthlyExpenditure  = "monthly_expenditure"
	DataPreferredLanguage   = "preferred_language"
	DataRecipientPhone      = "recipient_phone_number"
	DataSelectedToken       = "selected_token"
	DataSelectedVillage     = "selected_village"
	DataTransactionAmount   = "transaction_amount"
	DataTransactionProduct  = "transaction_product"
)

// Session is the live state of one USSD call
type Session struct {
	ExternalSessionID string                 `json:"external_session_id"`
	MSISDN            string                 `json:"msisdn"`
	ServiceCode       string                 `json:"service_code"`
	State             string                 `json:"state"`
	UserInput         string                 `json:"user_input"`
	Data              map[string]interface{} `json:"data"`
	Version           uint64                 `json:"version"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Get returns a session data value
func (s *Session) Get(key string) (interface{}, bool) {
	if s.Data == nil {
		return nil, false
	}
	val, ok := s.Data[key]
	return val, ok
}

// GetString returns a session data value as a string, or ""
func (s *Session) GetString(key string) string {
	val, ok := s.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", val)
}

// Set a session data value
func (s *Session) Set(key string, val interface{}) {
	if s.Data == nil {
		s.Data = map[string]interface{}{}
	}
	s.Data[key] = val
}

// DataInto decodes a structured session data value into dst
func (s *Session) DataInto(key string, dst interface{}) error {
	val, ok := s.Get(key)
	if !ok || val == nil {
		return fmt.Errorf("no session data for %s", key)
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
