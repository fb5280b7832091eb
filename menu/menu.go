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

package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jinzhu/gorm"
	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/ledger"
	"github.com/provideplatform/ussd/logic"
	"github.com/provideplatform/ussd/poller"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/translation"
	"github.com/shopspring/decimal"
)

const listSplit = 3

// request is everything one rendering reads
type request struct {
	ctx     context.Context
	account *account.Account
	state   *state.State
	session *store.Session
	lang    string
}

type renderer func(r *request) (string, error)

// Assembler renders the text of a menu state; it never mutates state
type Assembler struct {
	config    *common.Config
	cache     cache.Cache
	db        *gorm.DB
	catalog   *translation.Catalog
	languages []translation.Language

	renderers map[string]renderer
}

// NewAssembler initializes a menu assembler
func NewAssembler(cfg *common.Config, c cache.Cache, db *gorm.DB, catalog *translation.Catalog, languages []translation.Language) *Assembler {
	a := &Assembler{
		config:    cfg,
		cache:     c,
		db:        db,
		catalog:   catalog,
		languages: languages,
	}

	a.renderers = map[string]renderer{
		"start":                               a.start,
		"help":                                a.plain,
		"account_balances":                    a.accountBalances,
		"community_fund_balances":             a.communityFundBalances,
		"transaction_amount":                  a.transactionAmount,
		"transaction_pin_authorization":       a.transactionPinAuthorization,
		"token_selection_pin_authorization":   a.tokenSelectionPinAuthorization,
		"guardian_addition_pin_authorization": a.guardianPinAuthorization,
		"guardian_removal_pin_authorization":  a.guardianPinAuthorization,
		"guarded_account_pin_authorization":   a.guardedAccountPinAuthorization,
		"guardian_list":                       a.guardianList,
		"display_user_metadata":               a.displayUserMetadata,
		"exit_successful_transaction":         a.exitSuccessfulTransaction,
		"exit_insufficient_balance":           a.exitInsufficientBalance,
		"exit_invalid_recipient":              a.exitInvalidRecipient,
		"exit_successful_token_selection":     a.exitSuccessfulTokenSelection,
		"exit_guardian_addition_success":      a.exitGuardian,
		"exit_guardian_removal_success":       a.exitGuardian,
		"exit_invalid_guardian_addition":      a.exitFailureReason,
		"exit_invalid_guardian_removal":       a.exitFailureReason,
		"exit_pin_reset_initiated_success":    a.exitPinResetInitiated,
	}
	for _, name := range []string{
		"initial_language_selection", "initial_middle_language_set", "initial_last_language_set",
		"select_preferred_language", "middle_language_set", "last_language_set",
	} {
		a.renderers[name] = a.languageSet
	}
	for _, name := range []string{"first_account_tokens_set", "middle_account_tokens_set", "last_account_tokens_set"} {
		a.renderers[name] = a.tokensSet
	}
	for _, name := range []string{"first_transaction_set", "middle_transaction_set", "last_transaction_set"} {
		a.renderers[name] = a.transactionSet
	}
	for _, name := range []string{
		"enter_current_pin",
		"account_balances_pin_authorization",
		"account_statement_pin_authorization",
		"display_metadata_pin_authorization",
		"metadata_edit_pin_authorization",
		"guardian_list_pin_authorization",
	} {
		a.renderers[name] = a.pinAuthorization
	}

	return a
}

// Render returns the CON/END text of st for the call described by sess
func (a *Assembler) Render(ctx context.Context, acct *account.Account, st *state.State, sess *store.Session) (string, error) {
	r := &request{
		ctx:     ctx,
		account: acct,
		state:   st,
		session: sess,
		lang:    a.language(acct, sess),
	}

	render, ok := a.renderers[st.Name]
	if !ok {
		render = a.plain
	}
	text, err := render(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (a *Assembler) language(acct *account.Account, sess *store.Session) string {
	if acct != nil {
		return a.catalog.Resolve(acct.PreferredLanguage(a.cache, a.catalog.Fallback()))
	}
	if sess != nil {
		if lang := sess.GetString(store.DataPreferredLanguage); lang != "" {
			return a.catalog.Resolve(lang)
		}
	}
	return a.catalog.Fallback()
}

func (a *Assembler) translate(r *request, key string, args map[string]interface{}) string {
	return a.catalog.Translate(key, r.lang, args)
}

func (a *Assembler) plain(r *request) (string, error) {
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"support_phone": a.config.SupportPhone,
	}), nil
}

func (a *Assembler) requireAccount(r *request) (*account.Account, error) {
	if r.account == nil {
		return nil, fmt.Errorf("state %s requires an account", r.state.Name)
	}
	return r.account, nil
}

func (a *Assembler) activeToken(acct *account.Account) (*ledger.TokenData, error) {
	return ledger.ResolveActiveToken(a.cache, acct.BlockchainAddress, a.config.ChainSpec, a.config.DefaultTokenSymbol, a.config.DefaultTokenDecimals)
}

// balances polls for the balance snapshot of the active token
func (a *Assembler) balances(r *request) (*ledger.TokenData, *ledger.Balances, error) {
	acct, err := a.requireAccount(r)
	if err != nil {
		return nil, nil, err
	}
	token, err := a.activeToken(acct)
	if err != nil {
		return nil, nil, err
	}
	balances, err := ledger.AwaitBalances(r.ctx, a.cache, acct.BlockchainAddress, token.Symbol, a.config.PollInterval, a.config.PollMaxRetries)
	if err != nil {
		return nil, nil, err
	}
	return token, balances, nil
}

// metadataID identifies the account registered to phone, or phone itself
func (a *Assembler) metadataID(phone string) string {
	acct, err := account.FindByPhoneNumber(a.db, phone)
	if err != nil || acct == nil {
		return phone
	}
	return acct.StandardMetadataID(a.cache)
}

// page returns the page of a first/middle/last list state
func page(name string) int {
	switch {
	case strings.Contains(name, "middle"):
		return 1
	case strings.Contains(name, "last"):
		return 2
	}
	return 0
}

func (a *Assembler) start(r *request) (string, error) {
	token, balances, err := a.balances(r)
	if err != nil {
		return "", err
	}
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"account_balance":    ledger.FormatAmount(balances.Display(token.Decimals)),
		"account_token_name": token.Symbol,
	}), nil
}

func (a *Assembler) accountBalances(r *request) (string, error) {
	token, balances, err := a.balances(r)
	if err != nil {
		return "", err
	}
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"available_balance": ledger.FormatAmount(balances.Display(token.Decimals)),
		"spendable_balance": ledger.FormatAmount(balances.Spendable(token.Decimals)),
		"token_symbol":      token.Symbol,
	}), nil
}

// communityFundBalances renders the cached balance of the active token's
// sink; a fund whose address or balance is not cached yet shows zero
func (a *Assembler) communityFundBalances(r *request) (string, error) {
	acct, err := a.requireAccount(r)
	if err != nil {
		return "", err
	}
	token, err := a.activeToken(acct)
	if err != nil {
		return "", err
	}

	balance := decimal.Zero
	if sink, err := ledger.SinkAddress(a.cache, token.Symbol); err == nil && sink != "" {
		if balances, err := ledger.CachedBalances(a.cache, sink, token.Symbol); err == nil {
			balance = balances.Display(token.Decimals)
		}
	}
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"community_fund_balance": fmt.Sprintf("%s %s", ledger.FormatAmount(balance), token.Symbol),
	}), nil
}

func (a *Assembler) languageSet(r *request) (string, error) {
	fallback := a.translate(r, "helpers.no_language_list", nil)
	pages := SplitMenuList(fallback, translation.MenuLines(a.languages), listSplit)
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"language_set": pages[page(r.state.Name)],
	}), nil
}

func (a *Assembler) tokensSet(r *request) (string, error) {
	fallback := a.translate(r, "helpers.no_tokens_list", nil)
	lines := ledger.TokenListLines(logic.AccountTokens(r.session))
	pages := SplitMenuList(fallback, lines, listSplit)
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"account_tokens_set": pages[page(r.state.Name)],
	}), nil
}

// transactionSet renders a statement page; the first page waits for a
// statement requested on the way in, later pages read what is cached
func (a *Assembler) transactionSet(r *request) (string, error) {
	acct, err := a.requireAccount(r)
	if err != nil {
		return "", err
	}

	if page(r.state.Name) == 0 {
		_, err := poller.WaitForCache(r.ctx, a.cache, ledger.StatementKey(acct.BlockchainAddress), a.config.PollInterval, a.config.PollMaxRetries)
		var timeout *poller.MaxRetryReachedError
		if err != nil && !errors.As(err, &timeout) {
			return "", err
		}
		if err != nil {
			common.Log.Debugf("no statement cached for %s; rendering empty statement", acct.BlockchainAddress)
		}
	}

	entries, err := ledger.CachedStatement(a.cache, acct.BlockchainAddress)
	if err != nil {
		return "", err
	}
	lines := ledger.StatementLines(entries, a.config.TimeZone)

	fallback := a.translate(r, "helpers.no_transaction_history", nil)
	pages := SplitMenuList(fallback, lines, listSplit)
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"transaction_set": pages[page(r.state.Name)],
	}), nil
}

func (a *Assembler) pinPrompt(r *request, args map[string]interface{}) (string, error) {
	acct, err := a.requireAccount(r)
	if err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if acct.FailedPinAttempts == 0 {
		return a.translate(r, fmt.Sprintf("%s.first", r.state.DisplayKey), args), nil
	}
	args["retry_pin_entry"] = a.translate(r, "ussd.retry_pin_entry", map[string]interface{}{
		"remaining_attempts": acct.RemainingPinAttempts(),
	})
	return a.translate(r, fmt.Sprintf("%s.retry", r.state.DisplayKey), args), nil
}

func (a *Assembler) pinAuthorization(r *request) (string, error) {
	return a.pinPrompt(r, nil)
}

func (a *Assembler) transactionAmount(r *request) (string, error) {
	acct, err := a.requireAccount(r)
	if err != nil {
		return "", err
	}
	token, err := a.activeToken(acct)
	if err != nil {
		return "", err
	}
	spendable, err := ledger.CachedSpendableBalance(a.cache, acct.BlockchainAddress)
	if err != nil && err != common.ErrCachedDataNotFound {
		return "", err
	}
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"spendable_amount": fmt.Sprintf("%s %s", ledger.FormatAmount(spendable), token.Symbol),
	}), nil
}

func (a *Assembler) transactionArgs(r *request) (map[string]interface{}, error) {
	acct, err := a.requireAccount(r)
	if err != nil {
		return nil, err
	}
	token, err := a.activeToken(acct)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"recipient_information": a.metadataID(r.session.GetString(store.DataRecipientPhone)),
		"sender_information":    acct.StandardMetadataID(a.cache),
		"transaction_amount":    r.session.GetString(store.DataTransactionAmount),
		"token_symbol":          token.Symbol,
	}, nil
}

func (a *Assembler) transactionPinAuthorization(r *request) (string, error) {
	args, err := a.transactionArgs(r)
	if err != nil {
		return "", err
	}
	return a.pinPrompt(r, args)
}

func (a *Assembler) exitSuccessfulTransaction(r *request) (string, error) {
	args, err := a.transactionArgs(r)
	if err != nil {
		return "", err
	}
	return a.translate(r, r.state.DisplayKey, args), nil
}

func (a *Assembler) exitInsufficientBalance(r *request) (string, error) {
	acct, err := a.requireAccount(r)
	if err != nil {
		return "", err
	}
	token, err := a.activeToken(acct)
	if err != nil {
		return "", err
	}
	spendable, err := ledger.CachedSpendableBalance(a.cache, acct.BlockchainAddress)
	if err != nil && err != common.ErrCachedDataNotFound {
		return "", err
	}
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"amount":                state.LatestInput(r.session.UserInput),
		"token_symbol":          token.Symbol,
		"recipient_information": a.metadataID(r.session.GetString(store.DataRecipientPhone)),
		"token_balance":         ledger.FormatAmount(spendable),
	}), nil
}

func (a *Assembler) exitInvalidRecipient(r *request) (string, error) {
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"invalid_number": state.LatestInput(r.session.UserInput),
	}), nil
}

func (a *Assembler) selectedToken(r *request) *ledger.TokenEntry {
	token := &ledger.TokenEntry{}
	if err := r.session.DataInto(store.DataSelectedToken, token); err != nil {
		common.Log.Debugf("no token selected in session %s", r.session.ExternalSessionID)
	}
	return token
}

func (a *Assembler) tokenSelectionPinAuthorization(r *request) (string, error) {
	token := a.selectedToken(r)
	details := make([]string, 0, 5)
	for _, field := range []string{token.Symbol, token.Issuer, token.Contact, token.Location, token.Description} {
		if field != "" {
			details = append(details, field)
		}
	}
	return a.pinPrompt(r, map[string]interface{}{
		"token_data": strings.Join(details, "\n"),
	})
}

func (a *Assembler) exitSuccessfulTokenSelection(r *request) (string, error) {
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"token_symbol": a.selectedToken(r).Symbol,
	}), nil
}

func (a *Assembler) guardianPinAuthorization(r *request) (string, error) {
	return a.pinPrompt(r, map[string]interface{}{
		"guardian_information": a.metadataID(r.session.GetString(store.DataGuardianPhone)),
	})
}

func (a *Assembler) guardedAccountPinAuthorization(r *request) (string, error) {
	return a.pinPrompt(r, map[string]interface{}{
		"guarded_account_information": a.metadataID(r.session.GetString(store.DataGuardedAccountPhone)),
	})
}

func (a *Assembler) exitGuardian(r *request) (string, error) {
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"guardian_information": a.metadataID(r.session.GetString(store.DataGuardianPhone)),
	}), nil
}

func (a *Assembler) exitFailureReason(r *request) (string, error) {
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"error_exit": a.translate(r, r.session.GetString(store.DataFailureReason), nil),
	}), nil
}

func (a *Assembler) exitPinResetInitiated(r *request) (string, error) {
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"guarded_account_information": a.metadataID(r.session.GetString(store.DataGuardedAccountPhone)),
	}), nil
}

func (a *Assembler) guardianList(r *request) (string, error) {
	acct, err := a.requireAccount(r)
	if err != nil {
		return "", err
	}

	guardians := acct.GuardianList()
	if len(guardians) == 0 {
		return a.translate(r, r.state.DisplayKey, map[string]interface{}{
			"guardians_list": a.translate(r, "helpers.no_guardians_list", nil),
		}), nil
	}

	// guardians added before the addition limit applied are not shown
	if len(guardians) > listSplit {
		guardians = guardians[:listSplit]
	}
	lines := []string{a.translate(r, "helpers.guardians_list_header", nil)}
	for _, phone := range guardians {
		lines = append(lines, a.metadataID(phone))
	}
	return a.translate(r, r.state.DisplayKey, map[string]interface{}{
		"guardians_list": strings.Join(lines, "\n"),
	}), nil
}

func (a *Assembler) displayUserMetadata(r *request) (string, error) {
	acct, err := a.requireAccount(r)
	if err != nil {
		return "", err
	}

	absent := a.translate(r, "helpers.not_provided", nil)
	args := map[string]interface{}{
		"full_name": absent,
		"gender":    absent,
		"location":  absent,
		"products":  absent,
	}

	person, err := account.CachedPersonMetadata(a.cache, acct.BlockchainAddress)
	if err != nil && err != common.ErrCachedDataNotFound {
		return "", err
	}
	if person != nil {
		if name := person.FullName(); name != "" {
			args["full_name"] = name
		}
		if person.Gender != "" {
			args["gender"] = a.translate(r, fmt.Sprintf("helpers.%s", person.Gender), nil)
		}
		if person.Location != "" {
			args["location"] = person.Location
		}
		if len(person.Products) > 0 {
			args["products"] = strings.Join(person.Products, ", ")
		}
	}
	return a.translate(r, r.state.DisplayKey, args), nil
}
