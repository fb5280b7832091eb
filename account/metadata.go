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

	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
)

// PersonMetadata is the profile an external metadata service holds for an account
type PersonMetadata struct {
	GivenName  string   `json:"given_name,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Gender     string   `json:"gender,omitempty"`
	Location   string   `json:"location,omitempty"`
	Products   []string `json:"products,omitempty"`

	OrganizationTag string `json:"organization_tag,omitempty"`
}

// FullName returns the given and family names joined
func (p *PersonMetadata) FullName() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", p.GivenName, p.FamilyName))
}

// Preferences holds account preferences held by the metadata service
type Preferences struct {
	PreferredLanguage string `json:"preferred_language"`
}

// CachedPersonMetadata returns the cached profile of the account holding address
func CachedPersonMetadata(c cache.Cache, address string) (*PersonMetadata, error) {
	person := &PersonMetadata{}
	if err := cache.GetJSON(c, cache.AddressKey(address, cache.PointerPerson), person); err != nil {
		return nil, err
	}
	return person, nil
}

// CachePersonMetadata records the profile of the account holding address
func CachePersonMetadata(c cache.Cache, address string, person *PersonMetadata) error {
	return cache.SetJSON(c, cache.AddressKey(address, cache.PointerPerson), person, 0)
}

// PreferredLanguage returns the cached preferred language of the account holding address, or ""
func PreferredLanguage(c cache.Cache, address string) string {
	prefs := &Preferences{}
	if err := cache.GetJSON(c, cache.AddressKey(address, cache.PointerPreferences), prefs); err != nil {
		if err != common.ErrCachedDataNotFound {
			common.Log.Warningf("failed to read preferences for %s; %s", address, err.Error())
		}
		return ""
	}
	return prefs.PreferredLanguage
}

// CachePreferences records the preferences of the account holding address
func CachePreferences(c cache.Cache, address string, prefs *Preferences) error {
	return cache.SetJSON(c, cache.AddressKey(address, cache.PointerPreferences), prefs, 0)
}

// StandardMetadataID identifies the account to other subscribers: the
// holder's name and number when a profile is cached, the number otherwise
func (a *Account) StandardMetadataID(c cache.Cache) string {
	person, err := CachedPersonMetadata(c, a.BlockchainAddress)
	if err != nil || person.FullName() == "" {
		return a.PhoneNumber
	}
	return fmt.Sprintf("%s %s", person.FullName(), a.PhoneNumber)
}

// PreferredLanguage returns the account's preferred language, or fallback
func (a *Account) PreferredLanguage(c cache.Cache, fallback string) string {
	if lang := PreferredLanguage(c, a.BlockchainAddress); lang != "" {
		return lang
	}
	return fallback
}
