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

package tasks

import (
	"encoding/json"
	"fmt"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/common"
)

const defaultNatsStream = "ussd"

const natsBalanceQuerySubject = "ussd.ledger.balance.query"
const natsStatementQuerySubject = "ussd.ledger.statement.query"
const natsTransferSubject = "ussd.ledger.transfer"
const natsAccountCreateSubject = "ussd.ledger.account.create"
const natsTokenDataQuerySubject = "ussd.ledger.tokens.query"
const natsPersonMetadataQuerySubject = "ussd.metadata.person.query"
const natsPersonMetadataUpsertSubject = "ussd.metadata.person.upsert"
const natsPreferencesQuerySubject = "ussd.metadata.preferences.query"
const natsPreferencesUpsertSubject = "ussd.metadata.preferences.upsert"
const natsSMSNotificationSubject = "ussd.notify.sms"

// Dispatcher publishes fire-and-forget requests to external services
type Dispatcher interface {
	Dispatch(subject string, payload interface{}) error
}

// NatsDispatcher publishes requests to NATS JetStream
type NatsDispatcher struct{}

// Dispatch marshals payload and publishes it on subject
func (d *NatsDispatcher) Dispatch(subject string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload; %s", subject, err.Error())
	}
	_, err = natsutil.NatsJetstreamPublish(subject, raw)
	if err != nil {
		return fmt.Errorf("failed to publish %d-byte payload on subject %s; %s", len(raw), subject, err.Error())
	}
	common.Log.Tracef("published %d-byte payload on subject %s", len(raw), subject)
	return nil
}

// BalanceQuery requests the balance snapshot of an address for a token
type BalanceQuery struct {
	Address     string `json:"address"`
	TokenSymbol string `json:"token_symbol"`
	ChainSpec   string `json:"chain_spec"`
}

// StatementQuery requests the most recent transactions of an address
type StatementQuery struct {
	Address   string `json:"address"`
	Limit     int    `json:"limit"`
	ChainSpec string `json:"chain_spec"`
}

// TokenDataQuery requests registry data for tokens held by an address
type TokenDataQuery struct {
	Address      string   `json:"address"`
	TokenSymbols []string `json:"token_symbols"`
	ChainSpec    string   `json:"chain_spec"`
}

// TransferRequest requests a ledger transfer; Value is in smallest units
type TransferRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	TokenSymbol string `json:"token_symbol"`
	ChainSpec   string `json:"chain_spec"`
}

// AccountCreationRequest requests a ledger account for a subscriber
type AccountCreationRequest struct {
	TaskID            string `json:"task_id"`
	PhoneNumber       string `json:"phone_number"`
	PreferredLanguage string `json:"preferred_language"`
	ChainSpec         string `json:"chain_spec"`

	// Village and Person are collected by the onboarding survey
	Village string                  `json:"village,omitempty"`
	Person  *account.PersonMetadata `json:"person,omitempty"`
}

// MetadataQuery requests metadata of an address
type MetadataQuery struct {
	Address string `json:"address"`
}

// PersonMetadataUpsert writes a profile to the metadata service
type PersonMetadataUpsert struct {
	Address string                  `json:"address"`
	Person  *account.PersonMetadata `json:"person"`
}

// PreferencesUpsert writes preferences to the metadata service
type PreferencesUpsert struct {
	Address     string               `json:"address"`
	Preferences *account.Preferences `json:"preferences"`
}

// SMSNotification requests delivery of a text message
type SMSNotification struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// QueryBalance requests a balance snapshot
func QueryBalance(d Dispatcher, cfg *common.Config, address, symbol string) error {
	return d.Dispatch(natsBalanceQuerySubject, &BalanceQuery{
		Address:     address,
		TokenSymbol: symbol,
		ChainSpec:   cfg.ChainSpec,
	})
}

// QueryStatement requests the statement of an address
func QueryStatement(d Dispatcher, cfg *common.Config, address string) error {
	return d.Dispatch(natsStatementQuerySubject, &StatementQuery{
		Address:   address,
		Limit:     cfg.StatementLimit,
		ChainSpec: cfg.ChainSpec,
	})
}

// QueryTokenData requests registry data for tokens
func QueryTokenData(d Dispatcher, cfg *common.Config, address string, symbols []string) error {
	return d.Dispatch(natsTokenDataQuerySubject, &TokenDataQuery{
		Address:      address,
		TokenSymbols: symbols,
		ChainSpec:    cfg.ChainSpec,
	})
}

// RequestTransfer requests a ledger transfer
func RequestTransfer(d Dispatcher, cfg *common.Config, req *TransferRequest) error {
	req.ChainSpec = cfg.ChainSpec
	return d.Dispatch(natsTransferSubject, req)
}

// RequestAccountCreation requests a ledger account
func RequestAccountCreation(d Dispatcher, cfg *common.Config, req *AccountCreationRequest) error {
	req.ChainSpec = cfg.ChainSpec
	return d.Dispatch(natsAccountCreateSubject, req)
}

// QueryAccountMetadata requests the profile and preferences of an address
func QueryAccountMetadata(d Dispatcher, address string) error {
	query := &MetadataQuery{Address: address}
	if err := d.Dispatch(natsPersonMetadataQuerySubject, query); err != nil {
		return err
	}
	return d.Dispatch(natsPreferencesQuerySubject, query)
}

// UpsertPersonMetadata writes a profile to the metadata service
func UpsertPersonMetadata(d Dispatcher, address string, person *account.PersonMetadata) error {
	return d.Dispatch(natsPersonMetadataUpsertSubject, &PersonMetadataUpsert{Address: address, Person: person})
}

// UpsertPreferences writes preferences to the metadata service
func UpsertPreferences(d Dispatcher, address string, prefs *account.Preferences) error {
	return d.Dispatch(natsPreferencesUpsertSubject, &PreferencesUpsert{Address: address, Preferences: prefs})
}
