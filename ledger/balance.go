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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/poller"
	"github.com/shopspring/decimal"
)

// Balances is the raw balance snapshot written by the ledger for an
// (address, token) pair; values are integers in the token's smallest unit
type Balances struct {
	Network  decimal.Decimal `json:"balance_network"`
	Incoming decimal.Decimal `json:"balance_incoming"`
	Outgoing decimal.Decimal `json:"balance_outgoing"`

	// Decimals is delivered with the same snapshot as the raw values
	Decimals *int32 `json:"decimals,omitempty"`
}

// ScaleDown converts a smallest-unit amount into display units
func ScaleDown(value decimal.Decimal, decimals int32) decimal.Decimal {
	return value.Shift(-decimals)
}

// ScaleUp converts a display amount into whole smallest units
func ScaleUp(value decimal.Decimal, decimals int32) decimal.Decimal {
	return value.Shift(decimals).Truncate(0)
}

// DisplayBalance is network + incoming - outgoing, scaled down
func DisplayBalance(network, incoming, outgoing decimal.Decimal, decimals int32) decimal.Decimal {
	return ScaleDown(network.Add(incoming).Sub(outgoing), decimals)
}

// SpendableBalance is network - outgoing, scaled down; pending incoming value
// cannot be spent
func SpendableBalance(network, outgoing decimal.Decimal, decimals int32) decimal.Decimal {
	return ScaleDown(network.Sub(outgoing), decimals)
}

// FormatAmount renders an amount truncated to two decimal places
func FormatAmount(amount decimal.Decimal) string {
	return amount.Truncate(2).String()
}

// ParseAmount parses subscriber input as a cash amount with two decimal places
func ParseAmount(input string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q; %s", input, err.Error())
	}
	return amount.Truncate(2), nil
}

func (b *Balances) decimals(fallback int32) int32 {
	if b.Decimals != nil {
		return *b.Decimals
	}
	common.Log.Warningf("balance snapshot without decimals; scaling by token registry decimals %d", fallback)
	return fallback
}

// Display returns the display balance; fallback decimals apply only when the
// snapshot carries none
func (b *Balances) Display(fallback int32) decimal.Decimal {
	return DisplayBalance(b.Network, b.Incoming, b.Outgoing, b.decimals(fallback))
}

// Spendable returns the spendable balance
func (b *Balances) Spendable(fallback int32) decimal.Decimal {
	return SpendableBalance(b.Network, b.Outgoing, b.decimals(fallback))
}

// BalancesKey is the cache key of the balance snapshot for an address and token
func BalancesKey(address, symbol string) string {
	return cache.AddressKey(address, cache.PointerBalances, symbol)
}

// CachedBalances reads the balance snapshot for an address and token
func CachedBalances(c cache.Cache, address, symbol string) (*Balances, error) {
	balances := &Balances{}
	if err := cache.GetJSON(c, BalancesKey(address, symbol), balances); err != nil {
		return nil, err
	}
	return balances, nil
}

// AwaitBalances polls the cache until the balance snapshot for an address and token is available
func AwaitBalances(ctx context.Context, c cache.Cache, address, symbol string, interval time.Duration, maxRetries int) (*Balances, error) {
	raw, err := poller.WaitForCache(ctx, c, BalancesKey(address, symbol), interval, maxRetries)
	if err != nil {
		return nil, err
	}

	balances := &Balances{}
	if err := json.Unmarshal([]byte(raw), balances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balances for %s; %s", address, err.Error())
	}
	return balances, nil
}

// CacheSpendableBalance records the spendable balance computed for an address
func CacheSpendableBalance(c cache.Cache, address string, spendable decimal.Decimal) error {
	return c.Set(cache.AddressKey(address, cache.PointerBalanceSpendable), spendable.String(), 0)
}

// CachedSpendableBalance returns the spendable balance last computed for an address
func CachedSpendableBalance(c cache.Cache, address string) (decimal.Decimal, error) {
	raw, err := c.Get(cache.AddressKey(address, cache.PointerBalanceSpendable))
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}
