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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"
	"github.com/provideplatform/ussd/common"
)

const natsAccountCreatedCallbackSubject = "ussd.callback.account_created"
const natsBalancesCallbackSubject = "ussd.callback.balances"
const natsPersonMetadataCallbackSubject = "ussd.callback.person_metadata"
const natsPreferencesCallbackSubject = "ussd.callback.preferences"
const natsStatementCallbackSubject = "ussd.callback.statement"
const natsTokenDataCallbackSubject = "ussd.callback.token_data"
const natsTransactionCallbackSubject = "ussd.callback.transaction"

const callbackAckWait = time.Minute
const callbackMaxInFlight = 256
const callbackMaxDeliveries = 5

// RequireNatsStream establishes the shared NATS connection and the ussd stream
func RequireNatsStream() {
	natsutil.EstablishSharedNatsConnection(nil)
	natsutil.NatsCreateStream(defaultNatsStream, []string{
		fmt.Sprintf("%s.>", defaultNatsStream),
	})
}

// RequireCallbackSubscriptions subscribes h to every callback subject
func RequireCallbackSubscriptions(h *CallbackHandler, wg *sync.WaitGroup) {
	if !common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("tasks package consumer configured to skip NATS streaming subscription setup")
		return
	}

	RequireNatsStream()

	subscriptions := map[string]func(*Callback) error{
		natsAccountCreatedCallbackSubject: h.HandleAccountCreated,
		natsBalancesCallbackSubject:       h.HandleBalances,
		natsPersonMetadataCallbackSubject: h.HandlePersonMetadata,
		natsPreferencesCallbackSubject:    h.HandlePreferences,
		natsStatementCallbackSubject:      h.HandleStatement,
		natsTokenDataCallbackSubject:      h.HandleTokenData,
		natsTransactionCallbackSubject:    h.HandleTransaction,
	}

	for subject, handler := range subscriptions {
		for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
			natsutil.RequireNatsJetstreamSubscription(wg,
				callbackAckWait,
				subject,
				subject,
				subject,
				consumeCallbackMsg(handler),
				callbackAckWait,
				callbackMaxInFlight,
				callbackMaxDeliveries,
				nil,
			)
		}
	}
}

func consumeCallbackMsg(handler func(*Callback) error) func(msg *nats.Msg) {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				common.Log.Warningf("recovered during callback handling on subject %s; %s", msg.Subject, r)
				msg.Nak()
			}
		}()

		common.Log.Debugf("consuming %d-byte NATS callback message on subject: %s", len(msg.Data), msg.Subject)

		cb := &Callback{}
		err := json.Unmarshal(msg.Data, cb)
		if err != nil {
			common.Log.Warningf("failed to unmarshal callback message on subject %s; %s", msg.Subject, err.Error())
			msg.Nak()
			return
		}

		if err := cb.validate(); err != nil {
			common.Log.Warningf("rejected callback on subject %s; %s", msg.Subject, err.Error())
			msg.Nak()
			return
		}

		if err := handler(cb); err != nil {
			common.Log.Warningf("failed to handle callback on subject %s; %s", msg.Subject, err.Error())
			msg.Nak()
			return
		}

		msg.Ack()
	}
}
