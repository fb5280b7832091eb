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
	"fmt"

	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/ledger"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"
	"github.com/shopspring/decimal"
)

func registerTransaction(r *state.Registry, d *Dependencies) {
	r.RegisterGuard("is_valid_recipient", state.GuardFunc(d.isValidRecipient))
	r.RegisterGuard("has_same_token", state.GuardFunc(d.hasSameToken))
	r.RegisterGuard("is_valid_transaction_amount", state.GuardFunc(isValidTransactionAmount))
	r.RegisterGuard("has_sufficient_balance", state.GuardFunc(d.hasSufficientBalance))
	r.RegisterGuard("is_valid_product_selection", state.GuardFunc(isValidProductSelection))

	r.RegisterAction("cache_spendable_balance", state.ActionFunc(d.cacheSpendableBalance))
	r.RegisterAction("save_recipient_phone_to_session_data", state.ActionFunc(d.saveRecipientPhoneToSessionData))
	r.RegisterAction("retrieve_recipient_metadata", state.ActionFunc(d.retrieveRecipientMetadata))
	r.RegisterAction("save_transaction_amount_to_session_data", state.ActionFunc(saveTransactionAmountToSessionData))
	r.RegisterAction("save_transaction_product_to_session_data", state.ActionFunc(saveTransactionProductToSessionData))
	r.RegisterAction("process_transaction_request", state.ActionFunc(d.processTransactionRequest))
}

// ActiveToken returns the token acct transacts in
func (d *Dependencies) ActiveToken(acct *account.Account) (*ledger.TokenData, error) {
	return ledger.ResolveActiveToken(d.Cache, acct.BlockchainAddress, d.Config.ChainSpec, d.Config.DefaultTokenSymbol, d.Config.DefaultTokenDecimals)
}

// recipient resolves the active account registered to the input phone number
func (d *Dependencies) recipient(c *state.Context) (*account.Account, error) {
	phone, ok := d.normalizePhoneNumber(c.Input)
	if !ok {
		return nil, nil
	}
	recipient, err := account.FindByPhoneNumber(c.DB, phone)
	if err != nil || recipient == nil {
		return nil, err
	}
	if recipient.Status != account.AccountStatusActive || recipient.BlockchainAddress == "" {
		return nil, nil
	}
	return recipient, nil
}

func (d *Dependencies) isValidRecipient(c *state.Context) (bool, error) {
	sender, err := requireAccount(c)
	if err != nil {
		return false, err
	}
	recipient, err := d.recipient(c)
	if err != nil || recipient == nil {
		return false, err
	}
	return recipient.ID != sender.ID, nil
}

// hasSameToken passes when the recipient transacts in the sender's active token;
// it always passes unless same-token transfers are enforced
func (d *Dependencies) hasSameToken(c *state.Context) (bool, error) {
	if !d.Config.RestrictSameTokenTransfers {
		return true, nil
	}
	sender, err := requireAccount(c)
	if err != nil {
		return false, err
	}
	recipient, err := d.recipient(c)
	if err != nil || recipient == nil {
		return false, err
	}

	senderToken, err := d.ActiveToken(sender)
	if err != nil {
		return false, err
	}
	recipientToken, err := d.ActiveToken(recipient)
	if err != nil {
		return false, err
	}
	return senderToken.Symbol == recipientToken.Symbol, nil
}

func isValidTransactionAmount(c *state.Context) (bool, error) {
	amount, err := ledger.ParseAmount(c.Input)
	if err != nil {
		return false, nil
	}
	return amount.IsPositive(), nil
}

func (d *Dependencies) hasSufficientBalance(c *state.Context) (bool, error) {
	acct, err := requireAccount(c)
	if err != nil {
		return false, err
	}
	amount, err := ledger.ParseAmount(c.Input)
	if err != nil {
		return false, nil
	}
	spendable, err := ledger.CachedSpendableBalance(d.Cache, acct.BlockchainAddress)
	if err == common.ErrCachedDataNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return amount.LessThanOrEqual(spendable), nil
}

// cacheSpendableBalance waits for the balance snapshot of the active token and
// records the spendable amount the transfer amount is checked against
func (d *Dependencies) cacheSpendableBalance(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}
	token, err := d.ActiveToken(acct)
	if err != nil {
		return err
	}
	balances, err := ledger.AwaitBalances(c.Ctx, d.Cache, acct.BlockchainAddress, token.Symbol, d.Config.PollInterval, d.Config.PollMaxRetries)
	if err != nil {
		return err
	}
	return ledger.CacheSpendableBalance(d.Cache, acct.BlockchainAddress, balances.Spendable(token.Decimals))
}

func (d *Dependencies) saveRecipientPhoneToSessionData(c *state.Context) error {
	phone, ok := d.normalizePhoneNumber(c.Input)
	if !ok {
		return fmt.Errorf("invalid recipient phone number")
	}
	c.Session.Set(store.DataRecipientPhone, phone)
	return nil
}

func (d *Dependencies) retrieveRecipientMetadata(c *state.Context) error {
	recipient, err := d.recipient(c)
	if err != nil {
		return err
	}
	if recipient == nil {
		return fmt.Errorf("recipient not found")
	}
	return tasks.QueryAccountMetadata(d.Dispatcher, recipient.BlockchainAddress)
}

func saveTransactionAmountToSessionData(c *state.Context) error {
	amount, err := ledger.ParseAmount(c.Input)
	if err != nil {
		return err
	}
	c.Session.Set(store.DataTransactionAmount, ledger.FormatAmount(amount))
	return nil
}

func isValidProductSelection(c *state.Context) (bool, error) {
	_, ok := menuSelection(c.Input, len(ledger.Products))
	return ok, nil
}

func saveTransactionProductToSessionData(c *state.Context) error {
	idx, ok := menuSelection(c.Input, len(ledger.Products))
	if !ok {
		return fmt.Errorf("invalid product selection %q", c.Input)
	}
	c.Session.Set(store.DataTransactionProduct, ledger.Products[idx-1])
	return nil
}

// processTransactionRequest requests a transfer of the session's amount in the
// sender's active token, scaled with the decimals of the cached balance snapshot
func (d *Dependencies) processTransactionRequest(c *state.Context) error {
	sender, err := requireAccount(c)
	if err != nil {
		return err
	}

	recipient, err := account.FindByPhoneNumber(c.DB, c.Session.GetString(store.DataRecipientPhone))
	if err != nil {
		return err
	}
	if recipient == nil {
		return fmt.Errorf("recipient %s not found", c.Session.GetString(store.DataRecipientPhone))
	}

	amount, err := decimal.NewFromString(c.Session.GetString(store.DataTransactionAmount))
	if err != nil {
		return fmt.Errorf("invalid transaction amount in session %s; %s", c.Session.ExternalSessionID, err.Error())
	}

	token, err := d.ActiveToken(sender)
	if err != nil {
		return err
	}
	decimals := token.Decimals
	if balances, err := ledger.CachedBalances(d.Cache, sender.BlockchainAddress, token.Symbol); err == nil && balances.Decimals != nil {
		decimals = *balances.Decimals
	}

	err = tasks.RequestTransfer(d.Dispatcher, d.Config, &tasks.TransferRequest{
		From:        sender.BlockchainAddress,
		To:          recipient.BlockchainAddress,
		Value:       ledger.ScaleUp(amount, decimals).String(),
		TokenSymbol: token.Symbol,
	})
	if err != nil {
		return err
	}

	meta := &ledger.TransactionMeta{
		Reason: c.Session.GetString(store.DataTransactionProduct),
		From:   sender.BlockchainAddress,
		To:     recipient.BlockchainAddress,
		Amount: amount.String(),
	}
	if !meta.Create(c.DB) && len(meta.Errors) > 0 {
		common.Log.Warningf("failed to record reason of transfer from %s to %s; %s", meta.From, meta.To, *meta.Errors[0].Message)
	}
	return nil
}
