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

	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	"github.com/shopspring/decimal"
)

// TokenData describes a token as published by the ledger's token registry
type TokenData struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name,omitempty"`
	Address     string `json:"address,omitempty"`
	Decimals    int32  `json:"decimals"`
	Issuer      string `json:"issuer,omitempty"`
	Contact     string `json:"contact,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`

	// SinkAddress holds the community fund the token's demurrage flows into
	SinkAddress string `json:"sink_address,omitempty"`
}

// TokenEntry is a token held by an account with its display balance
type TokenEntry struct {
	TokenData
	Balance decimal.Decimal `json:"balance"`
}

// OrderTokens orders an account's tokens for display: the last sent token
// first, then the last received token, then the rest by balance descending
// with symbol as tie-breaker. The input slice is not modified.
func OrderTokens(entries []TokenEntry, lastSent, lastReceived string) []TokenEntry {
	remaining := make([]TokenEntry, len(entries))
	copy(remaining, entries)

	ordered := make([]TokenEntry, 0, len(entries))
	for _, symbol := range []string{lastSent, lastReceived} {
		if symbol == "" {
			continue
		}
		for i, entry := range remaining {
			if entry.Symbol == symbol {
				ordered = append(ordered, entry)
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}

	sort.SliceStable(remaining, func(i, j int) bool {
		if cmp := remaining[i].Balance.Cmp(remaining[j].Balance); cmp != 0 {
			return cmp > 0
		}
		return remaining[i].Symbol < remaining[j].Symbol
	})

	return append(ordered, remaining...)
}

// TokenListLines renders tokens as numbered menu lines
func TokenListLines(entries []TokenEntry) []string {
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = fmt.Sprintf("%d. %s %s", i+1, entry.Symbol, FormatAmount(entry.Balance))
	}
	return lines
}

// ActiveTokenSymbol returns the token an account currently transacts in
func ActiveTokenSymbol(c cache.Cache, address string) (string, error) {
	return c.Get(cache.AddressKey(address, cache.PointerTokenActive))
}

// SetActiveToken records the token an account transacts in
func SetActiveToken(c cache.Cache, address, symbol string) error {
	return c.Set(cache.AddressKey(address, cache.PointerTokenActive), strings.ToUpper(symbol), 0)
}

// TokenDataKey is the cache key of the registry data for a token
func TokenDataKey(symbol string) string {
	return cache.StringKey(cache.PointerTokenData, strings.ToUpper(symbol))
}

// CachedTokenData reads the registry data for a token
func CachedTokenData(c cache.Cache, symbol string) (*TokenData, error) {
	token := &TokenData{}
	if err := cache.GetJSON(c, TokenDataKey(symbol), token); err != nil {
		return nil, err
	}
	return token, nil
}

// DefaultToken returns the default token of the chain
func DefaultToken(c cache.Cache, chainSpec string) (*TokenData, error) {
	token := &TokenData{}
	if err := cache.GetJSON(c, cache.StringKey(cache.PointerTokenDefault, chainSpec), token); err != nil {
		return nil, err
	}
	return token, nil
}

// RequireDefaultToken resolves the default token of the chain, seeding it from
// the given symbol when the cache holds none; an InitializationError is
// returned when neither is available
func RequireDefaultToken(c cache.Cache, chainSpec, symbol string, decimals int32) (*TokenData, error) {
	token, err := DefaultToken(c, chainSpec)
	if err == nil && token.Symbol != "" {
		return token, nil
	}
	if err != nil && err != common.ErrCachedDataNotFound {
		return nil, err
	}
	if symbol == "" {
		return nil, &common.InitializationError{Reason: fmt.Sprintf("no default token resolved for chain %s", chainSpec)}
	}

	token = &TokenData{Symbol: strings.ToUpper(symbol), Decimals: decimals}
	if existing, err := CachedTokenData(c, symbol); err == nil {
		token = existing
	}
	if err := cache.SetJSON(c, cache.StringKey(cache.PointerTokenDefault, chainSpec), token, 0); err != nil {
		return nil, err
	}

	common.Log.Debugf("seeded default token %s for chain %s", token.Symbol, chainSpec)
	return token, nil
}

// TokenSymbols returns the symbols of every token an account has held
func TokenSymbols(c cache.Cache, address string) ([]string, error) {
	symbols := make([]string, 0)
	err := cache.GetJSON(c, cache.AddressKey(address, cache.PointerTokenSymbolsList), &symbols)
	if err == common.ErrCachedDataNotFound {
		return symbols, nil
	}
	return symbols, err
}

// AddTokenSymbol appends a symbol to an account's token list if absent
func AddTokenSymbol(c cache.Cache, address, symbol string) error {
	symbols, err := TokenSymbols(c, address)
	if err != nil {
		return err
	}
	symbol = strings.ToUpper(symbol)
	if common.ContainsString(symbols, symbol) {
		return nil
	}
	return cache.SetJSON(c, cache.AddressKey(address, cache.PointerTokenSymbolsList), append(symbols, symbol), 0)
}

// LastSentToken returns the symbol of the token an account last sent, or ""
func LastSentToken(c cache.Cache, address string) string {
	symbol, _ := c.Get(cache.AddressKey(address, cache.PointerTokenLastSent))
	return symbol
}

// LastReceivedToken returns the symbol of the token an account last received, or ""
func LastReceivedToken(c cache.Cache, address string) string {
	symbol, _ := c.Get(cache.AddressKey(address, cache.PointerTokenLastReceived))
	return symbol
}

// SetLastSentToken records the token an account last sent
func SetLastSentToken(c cache.Cache, address, symbol string) error {
	return c.Set(cache.AddressKey(address, cache.PointerTokenLastSent), strings.ToUpper(symbol), 0)
}

// SetLastReceivedToken records the token an account last received
func SetLastReceivedToken(c cache.Cache, address, symbol string) error {
	return c.Set(cache.AddressKey(address, cache.PointerTokenLastReceived), strings.ToUpper(symbol), 0)
}

// ResolveActiveToken returns the token an account transacts in, falling back
// to the default token of the chain when none is set
func ResolveActiveToken(c cache.Cache, address, chainSpec, defaultSymbol string, defaultDecimals int32) (*TokenData, error) {
	symbol, err := ActiveTokenSymbol(c, address)
	if err != nil && err != common.ErrCachedDataNotFound {
		return nil, err
	}
	if symbol == "" {
		return RequireDefaultToken(c, chainSpec, defaultSymbol, defaultDecimals)
	}
	if token, err := CachedTokenData(c, symbol); err == nil {
		return token, nil
	}
	return &TokenData{Symbol: symbol, Decimals: defaultDecimals}, nil
}

// SinkAddress returns the community fund address of a token
func SinkAddress(c cache.Cache, symbol string) (string, error) {
	return c.Get(cache.StringKey(cache.PointerTokenSinkAddress, strings.ToUpper(symbol)))
}

// SetSinkAddress records the community fund address of a token
func SetSinkAddress(c cache.Cache, symbol, address string) error {
	return c.Set(cache.StringKey(cache.PointerTokenSinkAddress, strings.ToUpper(symbol)), address, 0)
}

// LockedAccountToken returns the token an account is locked to, or ""
func LockedAccountToken(c cache.Cache, address string) string {
	symbol, _ := c.Get(cache.AddressKey(address, cache.PointerAccountTokenLock))
	return symbol
}

// LockAccountToken locks an account to a token and makes it the active token
func LockAccountToken(c cache.Cache, address, symbol string) error {
	if err := c.Set(cache.AddressKey(address, cache.PointerAccountTokenLock), strings.ToUpper(symbol), 0); err != nil {
		return err
	}
	if err := SetActiveToken(c, address, symbol); err != nil {
		return err
	}
	common.Log.Debugf("locked account %s to token %s", address, strings.ToUpper(symbol))
	return AddTokenSymbol(c, address, symbol)
}
