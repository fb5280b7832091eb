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
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"golang.org/x/crypto/bcrypt"
)

const pinLength = 4

func registerPin(r *state.Registry, d *Dependencies) {
	r.RegisterGuard("is_valid_pin", state.GuardFunc(isValidPin))
	r.RegisterGuard("is_valid_new_pin", state.GuardFunc(isValidNewPin))
	r.RegisterGuard("pins_match", state.GuardFunc(pinsMatch))
	r.RegisterGuard("is_authorized_pin", state.GuardFunc(isAuthorizedPin))
	r.RegisterGuard("is_last_pin_attempt", state.GuardFunc(isLastPinAttempt))

	r.RegisterAction("save_initial_pin_to_session_data", state.ActionFunc(saveInitialPinToSessionData))
	r.RegisterAction("complete_pin_change", state.ActionFunc(completePinChange))
	r.RegisterAction("activate_account", state.ActionFunc(activateAccount))
	r.RegisterAction("reset_failed_pin_attempts", state.ActionFunc(resetFailedPinAttempts))
	r.RegisterAction("record_failed_pin_attempt", state.ActionFunc(recordFailedPinAttempt))
}

func validPin(pin string) bool {
	if len(pin) != pinLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isValidPin(c *state.Context) (bool, error) {
	return validPin(c.Input), nil
}

// isValidNewPin rejects a new pin equal to the current one
func isValidNewPin(c *state.Context) (bool, error) {
	acct, err := requireAccount(c)
	if err != nil {
		return false, err
	}
	return validPin(c.Input) && !acct.VerifyPin(c.Input), nil
}

func pinsMatch(c *state.Context) (bool, error) {
	hash := c.Session.GetString(store.DataInitialPin)
	if hash == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(c.Input)) == nil, nil
}

func isAuthorizedPin(c *state.Context) (bool, error) {
	acct, err := requireAccount(c)
	if err != nil {
		return false, err
	}
	return !acct.PinIsBlocked() && acct.VerifyPin(c.Input), nil
}

// isLastPinAttempt is true when one more failure locks the account
func isLastPinAttempt(c *state.Context) (bool, error) {
	acct, err := requireAccount(c)
	if err != nil {
		return false, err
	}
	return acct.RemainingPinAttempts() <= 1, nil
}

func saveInitialPinToSessionData(c *state.Context) error {
	hash, err := account.HashPin(c.Input)
	if err != nil {
		return err
	}
	c.Session.Set(store.DataInitialPin, hash)
	return nil
}

func completePinChange(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}
	hash := c.Session.GetString(store.DataInitialPin)
	if hash == "" {
		return fmt.Errorf("no pin to set for account %s", acct.ID)
	}
	if err := acct.SetPasswordHash(c.DB, hash); err != nil {
		return err
	}
	delete(c.Session.Data, store.DataInitialPin)
	return nil
}

func activateAccount(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}
	return acct.Activate(c.DB)
}

func resetFailedPinAttempts(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}
	return acct.ResetFailedPinAttempts(c.DB)
}

func recordFailedPinAttempt(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}
	return acct.RecordFailedPinAttempt(c.DB)
}
