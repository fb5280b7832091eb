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
	"strings"
	"unicode"

	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/tasks"
)

// Profile attributes collected in the session before an edit is authorized
const (
	AttributeGivenName  = "given_name"
	AttributeFamilyName = "family_name"
	AttributeGender     = "gender"
	AttributeLocation   = "location"
	AttributeProducts   = "products"
)

// attributeStates maps each profile entry state to the attribute it collects
var attributeStates = map[string]string{
	"enter_given_name":  AttributeGivenName,
	"enter_family_name": AttributeFamilyName,
	"enter_gender":      AttributeGender,
	"enter_location":    AttributeLocation,
	"enter_products":    AttributeProducts,
}

// genders are offered in menu order
var genders = []string{"male", "female", "other"}

func registerMetadata(r *state.Registry, d *Dependencies) {
	r.RegisterGuard("is_valid_name", state.GuardFunc(isValidName))
	r.RegisterGuard("is_valid_gender_selection", state.GuardFunc(isValidGenderSelection))

	r.RegisterAction("save_metadata_attribute_to_session_data", state.ActionFunc(saveMetadataAttributeToSessionData))
	r.RegisterAction("edit_user_metadata_attribute", state.ActionFunc(d.editUserMetadataAttribute))
}

func isValidName(c *state.Context) (bool, error) {
	name := strings.TrimSpace(c.Input)
	if name == "" {
		return false, nil
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != ' ' && r != '-' && r != '\'' {
			return false, nil
		}
	}
	return true, nil
}

func isValidGenderSelection(c *state.Context) (bool, error) {
	_, ok := menuSelection(c.Input, len(genders))
	return ok, nil
}

func saveMetadataAttributeToSessionData(c *state.Context) error {
	attr, ok := attributeStates[c.Session.State]
	if !ok {
		return fmt.Errorf("state %s does not collect a profile attribute", c.Session.State)
	}

	val := strings.TrimSpace(c.Input)
	if attr == AttributeGender {
		idx, _ := menuSelection(c.Input, len(genders))
		val = genders[idx-1]
	}
	c.Session.Set(attr, val)
	return nil
}

// editUserMetadataAttribute merges the attributes collected in the session
// into the cached profile and writes it to the metadata service
func (d *Dependencies) editUserMetadataAttribute(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}

	person, err := account.CachedPersonMetadata(d.Cache, acct.BlockchainAddress)
	if err == common.ErrCachedDataNotFound {
		person = &account.PersonMetadata{}
	} else if err != nil {
		return err
	}

	changed := false
	for _, attr := range attributeStates {
		val := c.Session.GetString(attr)
		if val == "" {
			continue
		}
		switch attr {
		case AttributeGivenName:
			person.GivenName = val
		case AttributeFamilyName:
			person.FamilyName = val
		case AttributeGender:
			person.Gender = val
		case AttributeLocation:
			person.Location = val
		case AttributeProducts:
			person.Products = strings.Split(val, ",")
			for i := range person.Products {
				person.Products[i] = strings.TrimSpace(person.Products[i])
			}
		}
		delete(c.Session.Data, attr)
		changed = true
	}
	if !changed {
		return nil
	}

	if err := account.CachePersonMetadata(d.Cache, acct.BlockchainAddress, person); err != nil {
		return err
	}
	return tasks.UpsertPersonMetadata(d.Dispatcher, acct.BlockchainAddress, person)
}
