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

package account

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/ussd/common"
	provide "github.com/provideplatform/provide-go/api"
	"golang.org/x/crypto/bcrypt"
)

const (
	AccountStatusPending = 1
	AccountStatusActive  = 2
	AccountStatusLocked  = 3
	AccountStatusReset   = 4
)

// MaxPinAttempts is the number of consecutive failed PIN entries after which an account is locked
const MaxPinAttempts = 3

const guardianSeparator = ","

// Account model
type Account struct {
	provide.Model
	UpdatedAt time.Time `json:"updated_at"`

	PhoneNumber       string  `sql:"not null" gorm:"unique_index" json:"phone_number"`
	BlockchainAddress string  `sql:"not null" json:"blockchain_address"`
	PasswordHash      *string `json:"-"`
	FailedPinAttempts int     `sql:"not null" json:"failed_pin_attempts"`
	Status            int     `sql:"not null" json:"status"`
	Guardians         *string `json:"-"`
	OrganizationTag   *string `json:"organization_tag,omitempty"`
}

// BeforeCreate assigns the account id
func (a *Account) BeforeCreate(scope *gorm.Scope) error {
	if a.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	return scope.SetColumn("ID", id)
}

// FindByPhoneNumber returns the account for a subscriber number, or nil
func FindByPhoneNumber(db *gorm.DB, phoneNumber string) (*Account, error) {
	return find(db.Where("phone_number = ?", phoneNumber))
}

// FindByBlockchainAddress returns the account holding a ledger address, or nil
func FindByBlockchainAddress(db *gorm.DB, address string) (*Account, error) {
	return find(db.Where("LOWER(blockchain_address) = ?", strings.ToLower(address)))
}

func find(query *gorm.DB) (*Account, error) {
	acct := &Account{}
	result := query.First(acct)
	if result.RecordNotFound() {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query account; %s", result.Error.Error())
	}
	return acct, nil
}

// Create the account
func (a *Account) Create(db *gorm.DB) bool {
	if !a.validate() {
		return false
	}

	if a.Status == 0 {
		a.Status = AccountStatusPending
	}

	if db.NewRecord(a) {
		result := db.Create(a)
		rowsAffected := result.RowsAffected
		errors := result.GetErrors()
		if len(errors) > 0 {
			for _, err := range errors {
				a.Errors = append(a.Errors, &provide.Error{
					Message: common.StringOrNil(err.Error()),
				})
			}
		}
		if !db.NewRecord(a) {
			success := rowsAffected > 0
			if success {
				common.Log.Debugf("created account %s for %s", a.ID, a.BlockchainAddress)
			}
			return success
		}
	}

	return false
}

func (a *Account) validate() bool {
	a.Errors = make([]*provide.Error, 0)

	if a.PhoneNumber == "" {
		a.Errors = append(a.Errors, &provide.Error{
			Message: common.StringOrNil("phone number required"),
		})
	}

	if a.BlockchainAddress == "" {
		a.Errors = append(a.Errors, &provide.Error{
			Message: common.StringOrNil("blockchain address required"),
		})
	}

	return len(a.Errors) == 0
}

// HasValidPin returns true if the account is active with a PIN set
func (a *Account) HasValidPin() bool {
	return a.Status == AccountStatusActive && a.PasswordHash != nil && !a.PinIsBlocked()
}

// PinIsBlocked returns true once the PIN attempt budget has been exhausted
func (a *Account) PinIsBlocked() bool {
	return a.Status == AccountStatusLocked || a.FailedPinAttempts >= MaxPinAttempts
}

// RemainingPinAttempts returns the number of PIN entries left before lockout
func (a *Account) RemainingPinAttempts() int {
	remaining := MaxPinAttempts - a.FailedPinAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// VerifyPin returns true if the pin matches the stored hash
func (a *Account) VerifyPin(pin string) bool {
	if a.PasswordHash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*a.PasswordHash), []byte(pin)) == nil
}

// HashPin returns the bcrypt hash of a pin
func HashPin(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin; %s", err.Error())
	}
	return string(hash), nil
}

// SetPasswordHash stores a new pin hash and clears failed attempts
func (a *Account) SetPasswordHash(db *gorm.DB, hash string) error {
	result := db.Model(a).Updates(map[string]interface{}{
		"password_hash":       hash,
		"failed_pin_attempts": 0,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update pin for account %s; %s", a.ID, result.Error.Error())
	}
	a.PasswordHash = &hash
	a.FailedPinAttempts = 0
	return nil
}

// Activate the account
func (a *Account) Activate(db *gorm.DB) error {
	return a.updateStatus(db, AccountStatusActive)
}

func (a *Account) updateStatus(db *gorm.DB, status int) error {
	result := db.Model(a).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update status of account %s; %s", a.ID, result.Error.Error())
	}
	a.Status = status
	return nil
}

// RecordFailedPinAttempt atomically increments the failed attempt counter,
// saturating at MaxPinAttempts and locking the account once reached
func (a *Account) RecordFailedPinAttempt(db *gorm.DB) error {
	result := db.Model(&Account{}).
		Where("id = ? AND failed_pin_attempts < ?", a.ID, MaxPinAttempts).
		UpdateColumn("failed_pin_attempts", gorm.Expr("failed_pin_attempts + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to record failed pin attempt for account %s; %s", a.ID, result.Error.Error())
	}

	result = db.Model(&Account{}).
		Where("id = ? AND failed_pin_attempts >= ?", a.ID, MaxPinAttempts).
		UpdateColumn("status", AccountStatusLocked)
	if result.Error != nil {
		return fmt.Errorf("failed to lock account %s; %s", a.ID, result.Error.Error())
	}

	return a.reload(db)
}

// ResetFailedPinAttempts clears the persisted failed attempt counter after a successful
// authorization; the in-memory copy may be stale when attempts were recorded concurrently
func (a *Account) ResetFailedPinAttempts(db *gorm.DB) error {
	result := db.Model(&Account{}).Where("id = ?", a.ID).UpdateColumn("failed_pin_attempts", 0)
	if result.Error != nil {
		return fmt.Errorf("failed to reset pin attempts for account %s; %s", a.ID, result.Error.Error())
	}
	a.FailedPinAttempts = 0
	return nil
}

// ResetPin clears the pin and lockout so the subscriber is asked to set a new pin on the next dial
func (a *Account) ResetPin(db *gorm.DB) error {
	result := db.Model(&Account{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"password_hash":       nil,
		"failed_pin_attempts": 0,
		"status":              AccountStatusReset,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to reset pin for account %s; %s", a.ID, result.Error.Error())
	}
	common.Log.Debugf("reset pin for account %s", a.ID)
	return a.reload(db)
}

func (a *Account) reload(db *gorm.DB) error {
	return db.Where("id = ?", a.ID).First(a).Error
}

// GuardianList returns the subscriber numbers allowed to reset this account's pin
func (a *Account) GuardianList() []string {
	guardians := make([]string, 0)
	if a.Guardians == nil {
		return guardians
	}
	for _, g := range strings.Split(*a.Guardians, guardianSeparator) {
		if g != "" {
			guardians = append(guardians, g)
		}
	}
	return guardians
}

// IsGuardian returns true if the given subscriber number guards this account
func (a *Account) IsGuardian(phoneNumber string) bool {
	return common.ContainsString(a.GuardianList(), phoneNumber)
}

// AddGuardian adds a pin guardian
func (a *Account) AddGuardian(db *gorm.DB, phoneNumber string) error {
	if a.IsGuardian(phoneNumber) {
		return nil
	}
	return a.saveGuardians(db, append(a.GuardianList(), phoneNumber))
}

// RemoveGuardian removes a pin guardian
func (a *Account) RemoveGuardian(db *gorm.DB, phoneNumber string) error {
	guardians := make([]string, 0)
	for _, g := range a.GuardianList() {
		if g != phoneNumber {
			guardians = append(guardians, g)
		}
	}
	return a.saveGuardians(db, guardians)
}

func (a *Account) saveGuardians(db *gorm.DB, guardians []string) error {
	joined := common.StringOrNil(strings.Join(guardians, guardianSeparator))
	result := db.Model(&Account{}).Where("id = ?", a.ID).UpdateColumn("guardians", joined)
	if result.Error != nil {
		return fmt.Errorf("failed to update guardians for account %s; %s", a.ID, result.Error.Error())
	}
	a.Guardians = joined
	return nil
}
