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
	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
)

// Translation keys of guardianship failure reasons
const (
	FailureGuardianNotFound       = "helpers.guardianship.not_found"
	FailureGuardianIsSelf         = "helpers.guardianship.is_self"
	FailureGuardianExists         = "helpers.guardianship.exists"
	FailureGuardianNotSet         = "helpers.guardianship.not_set"
	FailureGuardianLimitExhausted = "helpers.guardianship.limit"
)

// maxGuardians bounds the guardian list so it fits a single menu
const maxGuardians = 3

func registerGuardianship(r *state.Registry, d *Dependencies) {
	r.RegisterGuard("is_valid_guardian_addition", state.GuardFunc(d.isValidGuardianAddition))
	r.RegisterGuard("is_set_pin_guardian", state.GuardFunc(d.isSetPinGuardian))
	r.RegisterGuard("is_dialers_pin_guardian", state.GuardFunc(d.isDialersPinGuardian))

	r.RegisterAction("save_guardian_to_session_data", state.ActionFunc(d.saveGuardianToSessionData))
	r.RegisterAction("record_guardian_addition_failure", state.ActionFunc(d.recordGuardianAdditionFailure))
	r.RegisterAction("record_guardian_removal_failure", state.ActionFunc(d.recordGuardianRemovalFailure))
	r.RegisterAction("add_pin_guardian", state.ActionFunc(addPinGuardian))
	r.RegisterAction("remove_pin_guardian", state.ActionFunc(removePinGuardian))
	r.RegisterAction("save_guarded_account_to_session_data", state.ActionFunc(d.saveGuardedAccountToSessionData))
	r.RegisterAction("initiate_pin_reset", state.ActionFunc(d.initiatePinReset))
}

// guardianAdditionFailure returns the reason the input cannot be added as a
// guardian of the dialer, or "" when it can
func (d *Dependencies) guardianAdditionFailure(c *state.Context) (string, error) {
	acct, err := requireAccount(c)
	if err != nil {
		return "", err
	}
	phone, ok := d.normalizePhoneNumber(c.Input)
	if !ok {
		return FailureGuardianNotFound, nil
	}
	if phone == acct.PhoneNumber {
		return FailureGuardianIsSelf, nil
	}
	if acct.IsGuardian(phone) {
		return FailureGuardianExists, nil
	}
	if len(acct.GuardianList()) >= maxGuardians {
		return FailureGuardianLimitExhausted, nil
	}
	guardian, err := account.FindByPhoneNumber(c.DB, phone)
	if err != nil {
		return "", err
	}
	if guardian == nil || guardian.Status != account.AccountStatusActive {
		return FailureGuardianNotFound, nil
	}
	return "", nil
}

func (d *Dependencies) isValidGuardianAddition(c *state.Context) (bool, error) {
	reason, err := d.guardianAdditionFailure(c)
	if err != nil {
		return false, err
	}
	return reason == "", nil
}

func (d *Dependencies) isSetPinGuardian(c *state.Context) (bool, error) {
	acct, err := requireAccount(c)
	if err != nil {
		return false, err
	}
	phone, ok := d.normalizePhoneNumber(c.Input)
	return ok && acct.IsGuardian(phone), nil
}

// isDialersPinGuardian passes when the dialer guards the account registered
// to the input phone number
func (d *Dependencies) isDialersPinGuardian(c *state.Context) (bool, error) {
	acct, err := requireAccount(c)
	if err != nil {
		return false, err
	}
	phone, ok := d.normalizePhoneNumber(c.Input)
	if !ok {
		return false, nil
	}
	guarded, err := account.FindByPhoneNumber(c.DB, phone)
	if err != nil || guarded == nil {
		return false, err
	}
	return guarded.IsGuardian(acct.PhoneNumber), nil
}

func (d *Dependencies) saveGuardianToSessionData(c *state.Context) error {
	phone, _ := d.normalizePhoneNumber(c.Input)
	c.Session.Set(store.DataGuardianPhone, phone)
	return nil
}

func (d *Dependencies) recordGuardianAdditionFailure(c *state.Context) error {
	reason, err := d.guardianAdditionFailure(c)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = FailureGuardianNotFound
	}
	c.Session.Set(store.DataFailureReason, reason)
	return nil
}

func (d *Dependencies) recordGuardianRemovalFailure(c *state.Context) error {
	c.Session.Set(store.DataFailureReason, FailureGuardianNotSet)
	return nil
}

func addPinGuardian(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}
	return acct.AddGuardian(c.DB, c.Session.GetString(store.DataGuardianPhone))
}

func removePinGuardian(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}
	return acct.RemoveGuardian(c.DB, c.Session.GetString(store.DataGuardianPhone))
}

func (d *Dependencies) saveGuardedAccountToSessionData(c *state.Context) error {
	phone, _ := d.normalizePhoneNumber(c.Input)
	c.Session.Set(store.DataGuardedAccountPhone, phone)
	return nil
}

// initiatePinReset resets the pin of the guarded account and tells its holder
// which guardian initiated the reset
func (d *Dependencies) initiatePinReset(c *state.Context) error {
	guardian, err := requireAccount(c)
	if err != nil {
		return err
	}
	guarded, err := account.FindByPhoneNumber(c.DB, c.Session.GetString(store.DataGuardedAccountPhone))
	if err != nil {
		return err
	}
	if guarded == nil {
		return common.ErrAccountNotFound
	}
	if err := guarded.ResetPin(c.DB); err != nil {
		return err
	}
	lang := guarded.PreferredLanguage(d.Cache, d.Catalog.Fallback())
	return d.Notifier.NotifyPinResetInitiated(guarded.PhoneNumber, lang, guardian.StandardMetadataID(d.Cache))
}
