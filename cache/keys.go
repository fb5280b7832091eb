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

package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// Pointer tags the category of a cached value
type Pointer string

const (
	PointerNone              Pointer = ""
	PointerSession           Pointer = ":cic.ussd.session"
	PointerResponse          Pointer = ":cic.ussd.response"
	PointerAccountCreation   Pointer = ":cic.account.creation"
	PointerAccountVillage    Pointer = ":cic.account.village"
	PointerAccountTokenLock  Pointer = ":cic.account.locked_account_token"
	PointerBalances          Pointer = ":cic.balances"
	PointerBalanceSpendable  Pointer = ":cic.balance.adjusted_spendable"
	PointerPerson            Pointer = ":cic.person"
	PointerPreferences       Pointer = ":cic.preferences"
	PointerStatement         Pointer = ":cic.statement"
	PointerTokenActive       Pointer = ":cic.token.active"
	PointerTokenData         Pointer = ":cic.token.data"
	PointerTokenDataList     Pointer = ":cic.token.data.list"
	PointerTokenDefault      Pointer = ":cic.token.default"
	PointerTokenLastReceived Pointer = ":cic.token.last.received"
	PointerTokenLastSent     Pointer = ":cic.token.last.sent"
	PointerTokenSinkAddress  Pointer = ":cic.token.sink.address"
	PointerTokenSymbolsList  Pointer = ":cic.token.symbols.list"
)

// Key derives the cache key for the given identifiers and category; every
// identifier and the category tag are length-prefixed, so keys for different
// arities or categories never collide
func Key(identifiers [][]byte, category Pointer) string {
	h := sha256.New()
	var prefix [8]byte
	for _, id := range identifiers {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(id)))
		h.Write(prefix[:])
		h.Write(id)
	}
	binary.BigEndian.PutUint64(prefix[:], uint64(len(category)))
	h.Write(prefix[:])
	h.Write([]byte(category))
	return hex.EncodeToString(h.Sum(nil))
}

// StringKey derives the cache key for string identifiers
func StringKey(category Pointer, identifiers ...string) string {
	ids := make([][]byte, len(identifiers))
	for i, id := range identifiers {
		ids[i] = []byte(id)
	}
	return Key(ids, category)
}

// AddressKey derives the cache key for a ledger address, optionally
// qualified by further identifiers such as a token symbol
func AddressKey(address string, category Pointer, qualifiers ...string) string {
	ids := [][]byte{AddressIdentifier(address)}
	for _, q := range qualifiers {
		ids = append(ids, []byte(q))
	}
	return Key(ids, category)
}

// AddressIdentifier returns the raw bytes of a hex ledger address; addresses
// that are not valid hex are used verbatim
func AddressIdentifier(address string) []byte {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(address), "0x"))
	if err != nil || len(raw) == 0 {
		return []byte(address)
	}
	return raw
}
