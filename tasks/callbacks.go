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
	"strings"
	"time"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/ledger"
	"github.com/provideplatform/ussd/translation"
)

const accountCreationTTL = time.Hour * 24

const transactionParamTransfer = "transfer"
const transactionParamTokenGift = "tokengift"

// Callback is the envelope external services reply with
type Callback struct {
	Result     json.RawMessage `json:"result"`
	Param      string          `json:"param"`
	StatusCode int             `json:"status_code"`
}

func (cb *Callback) validate() error {
	if cb.StatusCode != 0 {
		return fmt.Errorf("unexpected callback status code %d", cb.StatusCode)
	}
	if len(cb.Result) == 0 {
		return fmt.Errorf("empty callback result")
	}
	return nil
}

// CallbackHandler writes the results of external services into the shared cache
type CallbackHandler struct {
	cache      cache.Cache
	db         *gorm.DB
	dispatcher Dispatcher
	notifier   *Notifier
	config     *common.Config
	catalog    *translation.Catalog
}

// NewCallbackHandler initializes a callback handler
func NewCallbackHandler(c cache.Cache, db *gorm.DB, d Dispatcher, catalog *translation.Catalog, cfg *common.Config) *CallbackHandler {
	return &CallbackHandler{
		cache:      c,
		db:         db,
		dispatcher: d,
		notifier:   NewNotifier(d, catalog),
		config:     cfg,
		catalog:    catalog,
	}
}

func accountCreationKey(taskID string) string {
	return cache.StringKey(cache.PointerAccountCreation, taskID)
}

// CreateAccount records a pending account creation and requests a ledger
// account for the subscriber; the account row is written by the callback
func CreateAccount(d Dispatcher, c cache.Cache, cfg *common.Config, req *AccountCreationRequest) (string, error) {
	taskID, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	req.TaskID = taskID.String()
	if err := cache.SetJSON(c, accountCreationKey(req.TaskID), req, accountCreationTTL); err != nil {
		return "", err
	}
	if err := RequestAccountCreation(d, cfg, req); err != nil {
		return "", err
	}

	common.Log.Debugf("requested account creation for %s; task id: %s", req.PhoneNumber, req.TaskID)
	return req.TaskID, nil
}

// HandleAccountCreated persists the account created for a pending request
func (h *CallbackHandler) HandleAccountCreated(cb *Callback) error {
	req := &AccountCreationRequest{}
	if err := cache.GetJSON(h.cache, accountCreationKey(cb.Param), req); err != nil {
		return fmt.Errorf("failed to resolve account creation task %s; %s", cb.Param, err.Error())
	}

	var address string
	if err := json.Unmarshal(cb.Result, &address); err != nil {
		return fmt.Errorf("failed to unmarshal created account address; %s", err.Error())
	}

	existing, err := account.FindByPhoneNumber(h.db, req.PhoneNumber)
	if err != nil {
		return err
	}
	if existing != nil {
		common.Log.Debugf("account already exists for %s; skipping creation task %s", req.PhoneNumber, cb.Param)
		return h.cache.Delete(accountCreationKey(cb.Param))
	}

	acct := &account.Account{
		PhoneNumber:       req.PhoneNumber,
		BlockchainAddress: address,
		Status:            account.AccountStatusPending,
		OrganizationTag:   common.StringOrNil(h.config.OrganizationTag),
	}
	if !acct.Create(h.db) {
		if len(acct.Errors) > 0 {
			return fmt.Errorf("failed to create account for %s; %s", req.PhoneNumber, *acct.Errors[0].Message)
		}
		return fmt.Errorf("failed to create account for %s", req.PhoneNumber)
	}

	if token, err := ledger.DefaultToken(h.cache, h.config.ChainSpec); err == nil {
		if err := ledger.SetActiveToken(h.cache, address, token.Symbol); err != nil {
			return err
		}
		if err := ledger.AddTokenSymbol(h.cache, address, token.Symbol); err != nil {
			return err
		}
	} else {
		common.Log.Warningf("failed to resolve default token for new account %s; %s", acct.ID, err.Error())
	}
	if symbol, ok := account.VillageTokens[req.Village]; ok {
		if err := ledger.LockAccountToken(h.cache, address, symbol); err != nil {
			return err
		}
	}

	if req.Person != nil {
		req.Person.OrganizationTag = h.config.OrganizationTag
		if err := account.CachePersonMetadata(h.cache, address, req.Person); err != nil {
			return err
		}
		if err := UpsertPersonMetadata(h.dispatcher, address, req.Person); err != nil {
			common.Log.Warningf("failed to dispatch profile of new account %s; %s", acct.ID, err.Error())
		}
	}

	prefs := &account.Preferences{PreferredLanguage: req.PreferredLanguage}
	if err := account.CachePreferences(h.cache, address, prefs); err != nil {
		return err
	}
	if err := UpsertPreferences(h.dispatcher, address, prefs); err != nil {
		common.Log.Warningf("failed to dispatch preferences of new account %s; %s", acct.ID, err.Error())
	}

	return h.cache.Delete(accountCreationKey(cb.Param))
}

// HandleBalances caches a balance snapshot; param is "<address>,<token symbol>"
func (h *CallbackHandler) HandleBalances(cb *Callback) error {
	parts := strings.Split(cb.Param, ",")
	if len(parts) != 2 {
		return fmt.Errorf("invalid balances callback param %q", cb.Param)
	}

	balances := &ledger.Balances{}
	if err := json.Unmarshal(cb.Result, balances); err != nil {
		return fmt.Errorf("failed to unmarshal balances; %s", err.Error())
	}
	if balances.Decimals == nil {
		return fmt.Errorf("balances for %s without decimals", cb.Param)
	}

	return cache.SetJSON(h.cache, ledger.BalancesKey(parts[0], parts[1]), balances, 0)
}

// HandleTokenData caches token registry data; param is the address holding the token, if any
func (h *CallbackHandler) HandleTokenData(cb *Callback) error {
	token := &ledger.TokenData{}
	if err := json.Unmarshal(cb.Result, token); err != nil {
		return fmt.Errorf("failed to unmarshal token data; %s", err.Error())
	}
	if token.Symbol == "" {
		return fmt.Errorf("token data without symbol")
	}
	token.Symbol = strings.ToUpper(token.Symbol)

	if err := cache.SetJSON(h.cache, ledger.TokenDataKey(token.Symbol), token, 0); err != nil {
		return err
	}
	if token.SinkAddress != "" {
		if err := ledger.SetSinkAddress(h.cache, token.Symbol, token.SinkAddress); err != nil {
			return err
		}
	}
	if cb.Param != "" {
		return ledger.AddTokenSymbol(h.cache, cb.Param, token.Symbol)
	}
	return nil
}

// HandleStatement caches the statement of the address given as param
func (h *CallbackHandler) HandleStatement(cb *Callback) error {
	address := cb.Param
	txs := make([]ledger.Transaction, 0)
	if err := json.Unmarshal(cb.Result, &txs); err != nil {
		return fmt.Errorf("failed to unmarshal statement transactions; %s", err.Error())
	}

	lang := account.PreferredLanguage(h.cache, address)
	entries := make([]ledger.StatementEntry, 0, len(txs))
	for _, tx := range ledger.FilterStatementTransactions(txs) {
		entry := ledger.StatementEntry{
			Timestamp:   tx.Timestamp,
			TokenSymbol: tx.TokenSymbol,
		}

		value := tx.ToValue
		counterparty := tx.Sender
		entry.ActionTag = h.catalog.Translate("helpers.received", lang, nil)
		entry.DirectionTag = h.catalog.Translate("helpers.from", lang, nil)
		if strings.EqualFold(tx.Sender, address) {
			value = tx.FromValue
			counterparty = tx.Recipient
			entry.ActionTag = h.catalog.Translate("helpers.sent", lang, nil)
			entry.DirectionTag = h.catalog.Translate("helpers.to", lang, nil)
		}

		entry.Amount = ledger.FormatAmount(ledger.ScaleDown(value, tx.Decimals(h.config.DefaultTokenDecimals)))
		entry.Counterparty = h.metadataID(counterparty)
		entries = append(entries, entry)
	}

	ledger.SortStatement(entries)
	if h.config.StatementLimit > 0 && len(entries) > h.config.StatementLimit {
		entries = entries[:h.config.StatementLimit]
	}

	return cache.SetJSON(h.cache, ledger.StatementKey(address), entries, 0)
}

// HandleTransaction records token history for both parties of a settled
// transaction, refreshes their balances and notifies them
func (h *CallbackHandler) HandleTransaction(cb *Callback) error {
	tx := &ledger.Transaction{}
	if err := json.Unmarshal(cb.Result, tx); err != nil {
		return fmt.Errorf("failed to unmarshal transaction; %s", err.Error())
	}
	if tx.Status != ledger.TransactionStatusSuccess {
		common.Log.Debugf("ignoring %s transaction %s with status %s", cb.Param, tx.Hash, tx.Status)
		return nil
	}

	sender, err := account.FindByBlockchainAddress(h.db, tx.Sender)
	if err != nil {
		return err
	}
	recipient, err := account.FindByBlockchainAddress(h.db, tx.Recipient)
	if err != nil {
		return err
	}

	amount := ledger.FormatAmount(ledger.ScaleDown(tx.ToValue, tx.Decimals(h.config.DefaultTokenDecimals)))
	timestamp := time.Unix(tx.Timestamp, 0).In(h.config.TimeZone).Format("2006-01-02 03:04 PM")

	switch cb.Param {
	case transactionParamTokenGift:
		if recipient == nil {
			return fmt.Errorf("failed to resolve gift recipient %s", tx.Recipient)
		}
		if err := ledger.AddTokenSymbol(h.cache, recipient.BlockchainAddress, tx.TokenSymbol); err != nil {
			return err
		}
		lang := recipient.PreferredLanguage(h.cache, h.catalog.Fallback())
		if err := h.notifier.Notify(recipient.PhoneNumber, lang, notificationAccountCreated, nil); err != nil {
			return err
		}
		return h.notifier.Notify(recipient.PhoneNumber, lang, notificationTerms, nil)

	case transactionParamTransfer:
		if sender != nil {
			if err := ledger.SetLastSentToken(h.cache, sender.BlockchainAddress, tx.TokenSymbol); err != nil {
				return err
			}
			if err := QueryBalance(h.dispatcher, h.config, sender.BlockchainAddress, tx.TokenSymbol); err != nil {
				common.Log.Warningf("failed to refresh balance of %s; %s", sender.BlockchainAddress, err.Error())
			}
			err := h.notifier.Notify(sender.PhoneNumber, sender.PreferredLanguage(h.cache, h.catalog.Fallback()), notificationSentTokens, map[string]interface{}{
				"amount":                   amount,
				"token_symbol":             tx.TokenSymbol,
				"tx_recipient_information": h.metadataID(tx.Recipient),
				"timestamp":                timestamp,
			})
			if err != nil {
				return err
			}
		}

		if recipient != nil {
			if err := ledger.SetLastReceivedToken(h.cache, recipient.BlockchainAddress, tx.TokenSymbol); err != nil {
				return err
			}
			if err := ledger.AddTokenSymbol(h.cache, recipient.BlockchainAddress, tx.TokenSymbol); err != nil {
				return err
			}
			if err := QueryBalance(h.dispatcher, h.config, recipient.BlockchainAddress, tx.TokenSymbol); err != nil {
				common.Log.Warningf("failed to refresh balance of %s; %s", recipient.BlockchainAddress, err.Error())
			}
			return h.notifier.Notify(recipient.PhoneNumber, recipient.PreferredLanguage(h.cache, h.catalog.Fallback()), notificationReceivedTokens, map[string]interface{}{
				"amount":                amount,
				"token_symbol":          tx.TokenSymbol,
				"tx_sender_information": h.metadataID(tx.Sender),
				"timestamp":             timestamp,
			})
		}
		return nil
	}

	return fmt.Errorf("unsupported transaction callback param %q", cb.Param)
}

// HandlePersonMetadata caches the profile of the address given as param
func (h *CallbackHandler) HandlePersonMetadata(cb *Callback) error {
	person := &account.PersonMetadata{}
	if err := json.Unmarshal(cb.Result, person); err != nil {
		return fmt.Errorf("failed to unmarshal person metadata; %s", err.Error())
	}
	return account.CachePersonMetadata(h.cache, cb.Param, person)
}

// HandlePreferences caches the preferences of the address given as param
func (h *CallbackHandler) HandlePreferences(cb *Callback) error {
	prefs := &account.Preferences{}
	if err := json.Unmarshal(cb.Result, prefs); err != nil {
		return fmt.Errorf("failed to unmarshal preferences; %s", err.Error())
	}
	return account.CachePreferences(h.cache, cb.Param, prefs)
}

func (h *CallbackHandler) metadataID(address string) string {
	acct, err := account.FindByBlockchainAddress(h.db, address)
	if err != nil || acct == nil {
		return address
	}
	return acct.StandardMetadataID(h.cache)
}
