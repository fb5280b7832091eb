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

package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	"github.com/shopspring/decimal"
)

// ZeroAddress is the source token of ledger-internal movements, which are
// excluded from statements
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// TransactionStatusSuccess is the status of a settled transaction
const TransactionStatusSuccess = "SUCCESS"

const statementTimeLayout = "2006-01-02 03:04 PM"

// Transaction is a ledger transaction as delivered by statement and transfer callbacks
type Transaction struct {
	Hash             string          `json:"hash,omitempty"`
	Sender           string          `json:"sender"`
	Recipient        string          `json:"recipient"`
	SourceToken      string          `json:"source_token"`
	DestinationToken string          `json:"destination_token"`
	TokenSymbol      string          `json:"token_symbol"`
	TokenDecimals    *int32          `json:"token_decimals,omitempty"`
	FromValue        decimal.Decimal `json:"from_value"`
	ToValue          decimal.Decimal `json:"to_value"`
	Timestamp        int64           `json:"timestamp"`
	Status           string          `json:"status"`
}

// Decimals returns the transaction's token decimals or the fallback
func (t *Transaction) Decimals(fallback int32) int32 {
	if t.TokenDecimals != nil {
		return *t.TokenDecimals
	}
	return fallback
}

// StatementEntry is a transaction rendered from the point of view of one account
type StatementEntry struct {
	Timestamp    int64  `json:"timestamp"`
	ActionTag    string `json:"action_tag"`
	DirectionTag string `json:"direction_tag"`
	Amount       string `json:"amount"`
	TokenSymbol  string `json:"token_symbol"`
	Counterparty string `json:"counterparty"`
}

// FilterStatementTransactions drops ledger-internal and unsettled transactions
func FilterStatementTransactions(txs []Transaction) []Transaction {
	filtered := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if strings.EqualFold(tx.SourceToken, ZeroAddress) {
			continue
		}
		if tx.Status != TransactionStatusSuccess {
			continue
		}
		filtered = append(filtered, tx)
	}
	return filtered
}

// SortStatement orders entries most recent first
func SortStatement(entries []StatementEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
}

// Line renders the entry as a statement line in the given time zone
func (e *StatementEntry) Line(loc *time.Location) string {
	ts := time.Unix(e.Timestamp, 0).In(loc).Format(statementTimeLayout)
	return fmt.Sprintf("%s %s %s %s %s %s", e.ActionTag, e.Amount, e.TokenSymbol, e.DirectionTag, e.Counterparty, ts)
}

// StatementLines renders entries as statement lines
func StatementLines(entries []StatementEntry, loc *time.Location) []string {
	lines := make([]string, len(entries))
	for i := range entries {
		lines[i] = entries[i].Line(loc)
	}
	return lines
}

// StatementKey is the cache key of an account's statement
func StatementKey(address string) string {
	return cache.AddressKey(address, cache.PointerStatement)
}

// CachedStatement reads an account's statement, most recent first; a missing
// statement yields an empty slice
func CachedStatement(c cache.Cache, address string) ([]StatementEntry, error) {
	entries := make([]StatementEntry, 0)
	err := cache.GetJSON(c, StatementKey(address), &entries)
	if err == common.ErrCachedDataNotFound {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	SortStatement(entries)
	return entries, nil
}
