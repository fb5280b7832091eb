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

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/ussd/common"
	provide "github.com/provideplatform/provide-go/api"
)

// Products a subscriber may name as the reason of a transfer, in menu order
var Products = []string{
	"agricultural_product",
	"garden_product",
	"breeding_product",
	"artisanal_product",
	"service",
}

// TransactionMeta records the reason a subscriber gave for a requested transfer
type TransactionMeta struct {
	provide.Model

	Reason string `gorm:"column:tx_reason" json:"tx_reason"`
	From   string `sql:"not null" gorm:"column:tx_from" json:"tx_from"`
	To     string `sql:"not null" gorm:"column:tx_to" json:"tx_to"`
	Amount string `sql:"not null" gorm:"column:tx_amount" json:"tx_amount"`
}

// TableName for the transaction meta model
func (TransactionMeta) TableName() string {
	return "tx_meta"
}

// BeforeCreate assigns the transaction meta id
func (m *TransactionMeta) BeforeCreate(scope *gorm.Scope) error {
	if m.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	return scope.SetColumn("ID", id)
}

// Create the transaction meta
func (m *TransactionMeta) Create(db *gorm.DB) bool {
	if !m.validate() {
		return false
	}

	if db.NewRecord(m) {
		result := db.Create(m)
		rowsAffected := result.RowsAffected
		errors := result.GetErrors()
		if len(errors) > 0 {
			for _, err := range errors {
				m.Errors = append(m.Errors, &provide.Error{
					Message: common.StringOrNil(err.Error()),
				})
			}
		}
		if !db.NewRecord(m) {
			return rowsAffected > 0
		}
	}

	return false
}

func (m *TransactionMeta) validate() bool {
	m.Errors = make([]*provide.Error, 0)

	if m.From == "" || m.To == "" {
		m.Errors = append(m.Errors, &provide.Error{
			Message: common.StringOrNil("transaction parties required"),
		})
	}

	if m.Amount == "" {
		m.Errors = append(m.Errors, &provide.Error{
			Message: common.StringOrNil("transaction amount required"),
		})
	}

	return len(m.Errors) == 0
}

// TransactionMetaFrom returns the transaction meta recorded for transfers sent from address, newest first
func TransactionMetaFrom(db *gorm.DB, address string) ([]*TransactionMeta, error) {
	metas := make([]*TransactionMeta, 0)
	if err := db.Where("tx_from = ?", address).Order("created_at desc").Find(&metas).Error; err != nil {
		return nil, fmt.Errorf("failed to query transaction meta of %s; %s", address, err.Error())
	}
	return metas, nil
}
