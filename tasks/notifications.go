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

package tasks

import (
	"fmt"

	"github.com/provideplatform/ussd/translation"
)

const (
	notificationSentTokens        = "sms.sent_tokens"
	notificationReceivedTokens    = "sms.received_tokens"
	notificationAccountCreated    = "sms.account_successfully_created"
	notificationTerms             = "sms.terms"
	notificationPinResetInitiated = "sms.pin_reset_initiated"
)

// Notifier dispatches translated text messages to subscribers
type Notifier struct {
	dispatcher Dispatcher
	catalog    *translation.Catalog
}

// NewNotifier initializes a notifier
func NewNotifier(d Dispatcher, catalog *translation.Catalog) *Notifier {
	return &Notifier{
		dispatcher: d,
		catalog:    catalog,
	}
}

// Notify renders the notification key in lang and dispatches it to recipient
func (n *Notifier) Notify(recipient, lang, key string, args map[string]interface{}) error {
	if recipient == "" {
		return fmt.Errorf("failed to dispatch %s notification; no recipient", key)
	}
	return n.dispatcher.Dispatch(natsSMSNotificationSubject, &SMSNotification{
		Recipient: recipient,
		Message:   n.catalog.Translate(key, lang, args),
	})
}

// NotifyPinResetInitiated tells a subscriber their pin was reset by a guardian
func (n *Notifier) NotifyPinResetInitiated(recipient, lang, guardian string) error {
	return n.Notify(recipient, lang, notificationPinResetInitiated, map[string]interface{}{
		"pin_initiator": guardian,
	})
}
