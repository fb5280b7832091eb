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

package logic

import (
	"strings"

	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/ledger"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"
)

// maxListedTokens fits three pages of three entries
const maxListedTokens = 9

func registerTokens(r *state.Registry, d *Dependencies) {
	r.RegisterGuard("is_valid_token_selection", state.GuardFunc(d.isValidTokenSelection))

	r.RegisterAction("query_account_tokens", state.ActionFunc(d.queryAccountTokens))
	r.RegisterAction("process_token_selection", state.ActionFunc(processTokenSelection))
	r.RegisterAction("set_selected_active_token", state.ActionFunc(d.setSelectedActiveToken))
	r.RegisterAction("query_statement", state.ActionFunc(d.queryStatement))
}

// AccountTokens returns the ordered token list saved in the session
func AccountTokens(sess *store.Session) []ledger.TokenEntry {
	entries := make([]ledger.TokenEntry, 0)
	if err := sess.DataInto(store.DataAccountTokens, &entries); err != nil {
		return entries
	}
	return entries
}

func selectedToken(c *state.Context) (*ledger.TokenEntry, bool) {
	entries := AccountTokens(c.Session)
	if idx, ok := menuSelection(c.Input, len(entries)); ok {
		return &entries[idx-1], true
	}
	for i := range entries {
		if strings.EqualFold(entries[i].Symbol, c.Input) {
			return &entries[i], true
		}
	}
	return nil, false
}

// isValidTokenSelection passes for a listed token; accounts locked to a
// token may only select that token
func (d *Dependencies) isValidTokenSelection(c *state.Context) (bool, error) {
	token, ok := selectedToken(c)
	if !ok {
		return false, nil
	}
	if c.Account == nil {
		return true, nil
	}
	locked := ledger.LockedAccountToken(d.Cache, c.Account.BlockchainAddress)
	return locked == "" || strings.EqualFold(locked, token.Symbol), nil
}

// queryAccountTokens refreshes the balances of every token the account holds
// and saves them in display order
func (d *Dependencies) queryAccountTokens(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}

	symbols, err := ledger.TokenSymbols(d.Cache, acct.BlockchainAddress)
	if err != nil {
		return err
	}
	if def, err := ledger.RequireDefaultToken(d.Cache, d.Config.ChainSpec, d.Config.DefaultTokenSymbol, d.Config.DefaultTokenDecimals); err == nil {
		if !common.ContainsString(symbols, def.Symbol) {
			symbols = append([]string{def.Symbol}, symbols...)
		}
	}

	if err := tasks.QueryTokenData(d.Dispatcher, d.Config, acct.BlockchainAddress, symbols); err != nil {
		return err
	}
	for _, symbol := range symbols {
		if err := tasks.QueryBalance(d.Dispatcher, d.Config, acct.BlockchainAddress, symbol); err != nil {
			return err
		}
	}

	entries := make([]ledger.TokenEntry, 0, len(symbols))
	for _, symbol := range symbols {
		balances, err := ledger.AwaitBalances(c.Ctx, d.Cache, acct.BlockchainAddress, symbol, d.Config.PollInterval, d.Config.PollMaxRetries)
		if err != nil {
			return err
		}
		token := ledger.TokenData{Symbol: symbol, Decimals: d.Config.DefaultTokenDecimals}
		if data, err := ledger.CachedTokenData(d.Cache, symbol); err == nil {
			token = *data
		}
		entries = append(entries, ledger.TokenEntry{
			TokenData: token,
			Balance:   balances.Display(token.Decimals),
		})
	}

	ordered := ledger.OrderTokens(entries, ledger.LastSentToken(d.Cache, acct.BlockchainAddress), ledger.LastReceivedToken(d.Cache, acct.BlockchainAddress))
	if len(ordered) > maxListedTokens {
		ordered = ordered[:maxListedTokens]
	}
	c.Session.Set(store.DataAccountTokens, ordered)
	return nil
}

func processTokenSelection(c *state.Context) error {
	token, _ := selectedToken(c)
	c.Session.Set(store.DataSelectedToken, token)
	return nil
}

func (d *Dependencies) setSelectedActiveToken(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}
	token := &ledger.TokenEntry{}
	if err := c.Session.DataInto(store.DataSelectedToken, token); err != nil {
		return err
	}
	return ledger.SetActiveToken(d.Cache, acct.BlockchainAddress, token.Symbol)
}

func (d *Dependencies) queryStatement(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}
	return tasks.QueryStatement(d.Dispatcher, d.Config, acct.BlockchainAddress)
}
