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

package processor

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
	"github.com/provideplatform/ussd/menu"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"
	"github.com/provideplatform/ussd/translation"
)

const invalidServiceCodeKey = "ussd.invalid_service_code"

// SystemErrorKey is the translation key of the generic failure text
const SystemErrorKey = "ussd.system_error"

// Message types of the JSON response envelope
const (
	MessageTypeContinue = 1
	MessageTypeEnd      = 2
)

// ErrInvalidPhoneNumber is returned when the subscriber number cannot be normalized
var ErrInvalidPhoneNumber = errors.New("invalid subscriber phone number")

// Request is one step of a USSD call as delivered by the gateway
type Request struct {
	SessionID   string
	ServiceCode string
	PhoneNumber string
	Text        string
}

// Response is the menu returned for a request
type Response struct {
	// Text is the full CON/END response
	Text   string
	MSISDN string
	State  string

	// JSON is true when the provider expects the JSON envelope
	JSON bool

	// Replayed is true when the response was served from the replay cache
	Replayed bool
}

// Envelope is the JSON response shape some providers expect
type Envelope struct {
	ErrCode int          `json:"errcode"`
	Data    EnvelopeData `json:"data"`
}

// EnvelopeData carries the menu of an Envelope
type EnvelopeData struct {
	Menu    string `json:"menu"`
	MsgType int    `json:"msg_type"`
	MSISDN  string `json:"msisdn"`
}

// Envelope wraps the response in the JSON envelope; the menu carries no CON/END prefix
func (r *Response) Envelope() *Envelope {
	prefix, body := menu.SplitResponse(r.Text)
	msgType := MessageTypeContinue
	if prefix == menu.PrefixEnd {
		msgType = MessageTypeEnd
	}
	return &Envelope{
		ErrCode: 200,
		Data: EnvelopeData{
			Menu:    body,
			MsgType: msgType,
			MSISDN:  r.MSISDN,
		},
	}
}

// Processor drives one call step through the session store, the state
// machine and the menu assembler
type Processor struct {
	config     *common.Config
	cache      cache.Cache
	db         *gorm.DB
	store      *store.Store
	machine    *state.Machine
	assembler  *menu.Assembler
	dispatcher tasks.Dispatcher
	catalog    *translation.Catalog
}

// New initializes a processor
func New(
	cfg *common.Config,
	c cache.Cache,
	db *gorm.DB,
	s *store.Store,
	machine *state.Machine,
	assembler *menu.Assembler,
	d tasks.Dispatcher,
	catalog *translation.Catalog,
) *Processor {
	return &Processor{
		config:     cfg,
		cache:      c,
		db:         db,
		store:      s,
		machine:    machine,
		assembler:  assembler,
		dispatcher: d,
		catalog:    catalog,
	}
}

// CorrelationID returns the id grouping the requests of one call; calls the
// gateway assigns no session id are correlated by subscriber
func CorrelationID(sessionID, msisdn string) string {
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		return sessionID
	}
	return cache.Key([][]byte{[]byte(msisdn)}, cache.PointerNone)
}

// SystemError returns the generic failure text in the fallback language
func (p *Processor) SystemError() string {
	return p.catalog.Translate(SystemErrorKey, p.catalog.Fallback(), nil)
}

// Handle processes one request and returns the menu to show the subscriber
func (p *Processor) Handle(ctx context.Context, req *Request) (*Response, error) {
	if !p.config.IsValidServiceCode(req.ServiceCode) {
		common.Log.Debugf("rejected request for unsupported service code %s", req.ServiceCode)
		return &Response{
			Text: p.catalog.Translate(invalidServiceCodeKey, p.catalog.Fallback(), map[string]interface{}{
				"valid_service_code": p.config.ServiceCodes[0],
			}),
			JSON: p.config.UsesJSONEnvelope(req.ServiceCode),
		}, nil
	}

	msisdn, err := account.NormalizePhoneNumber(req.PhoneNumber, p.config.Region)
	if err != nil {
		return nil, fmt.Errorf("%w; %s", ErrInvalidPhoneNumber, err.Error())
	}

	if p.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.RequestTimeout)
		defer cancel()
	}

	correlationID := CorrelationID(req.SessionID, msisdn)
	unlock, err := p.store.Lock(correlationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	resp := &Response{
		MSISDN: msisdn,
		JSON:   p.config.UsesJSONEnvelope(req.ServiceCode),
	}

	if text, ok := p.store.CachedResponse(correlationID, req.Text); ok {
		common.Log.Debugf("replaying response to session %s for input %q", correlationID, req.Text)
		resp.Text = text
		resp.Replayed = true
		return resp, nil
	}

	acct, err := account.FindByPhoneNumber(p.db, msisdn)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		p.refresh(acct)
	}

	sess, err := p.store.Resolve(correlationID)
	if err != nil {
		return nil, err
	}

	next, data, err := p.next(ctx, acct, sess, msisdn, req.ServiceCode, req.Text)
	if err != nil {
		return nil, err
	}

	sess, err = p.store.CreateOrUpdate(correlationID, msisdn, req.ServiceCode, req.Text, next, data)
	if err != nil {
		return nil, err
	}

	st, ok := p.machine.State(next)
	if !ok {
		return nil, fmt.Errorf("no menu state %s", next)
	}
	text, err := p.assembler.Render(ctx, acct, st, sess)
	if err != nil {
		return nil, err
	}
	if err := menu.ValidateResponse(text); err != nil {
		return nil, err
	}

	if err := p.store.Persist(sess); err != nil {
		return nil, err
	}
	if err := p.store.CacheResponse(correlationID, req.Text, text); err != nil {
		common.Log.Warningf("failed to cache response to session %s; %s", correlationID, err.Error())
	}

	resp.Text = text
	resp.State = next
	return resp, nil
}

// next computes the state of this step and the session data to keep
func (p *Processor) next(ctx context.Context, acct *account.Account, sess *store.Session, msisdn, serviceCode, input string) (string, map[string]interface{}, error) {
	if sess == nil {
		next, data := p.entry(acct, msisdn)
		return next, data, nil
	}

	if sess.Data == nil {
		sess.Data = map[string]interface{}{}
	}
	next, err := p.machine.Advance(&state.Context{
		Ctx:                 ctx,
		Input:               input,
		Session:             sess,
		Account:             acct,
		DB:                  p.db,
		RestartOnEmptyInput: p.config.UsesJSONEnvelope(serviceCode),
	})
	if err != nil {
		return "", nil, err
	}
	return next, sess.Data, nil
}

// entry returns the first state of a new call and the session data it starts
// with, resuming the subscriber's last call, data included, when it was
// interrupted in a resumable state of the same menu
func (p *Processor) entry(acct *account.Account, msisdn string) (string, map[string]interface{}) {
	entry := p.machine.EntryState(acct)
	if entry != state.StateStart && entry != state.StateInitialLanguageSelection {
		return entry, map[string]interface{}{}
	}

	last, err := p.store.LastForSubscriber(msisdn)
	if err != nil {
		common.Log.Warningf("failed to resolve last session of %s; %s", msisdn, err.Error())
		return entry, map[string]interface{}{}
	}
	if last == nil {
		return entry, map[string]interface{}{}
	}

	resumed, ok := p.machine.ResumeState(last.State)
	if !ok || !p.machine.Reachable(entry, resumed) {
		return entry, map[string]interface{}{}
	}

	common.Log.Debugf("resuming session of %s at %s; interrupted at %s", msisdn, resumed, last.State)
	data := last.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return resumed, data
}

// refresh requests the profile and active token balance of acct, and the
// balance of the token's community fund, so they land in the cache while the
// step is processed
func (p *Processor) refresh(acct *account.Account) {
	if acct.BlockchainAddress == "" {
		return
	}
	if err := tasks.QueryAccountMetadata(p.dispatcher, acct.BlockchainAddress); err != nil {
		common.Log.Warningf("failed to request metadata of %s; %s", acct.BlockchainAddress, err.Error())
	}
	token, err := ledger.ResolveActiveToken(p.cache, acct.BlockchainAddress, p.config.ChainSpec, p.config.DefaultTokenSymbol, p.config.DefaultTokenDecimals)
	if err != nil {
		common.Log.Warningf("failed to resolve active token of %s; %s", acct.BlockchainAddress, err.Error())
		return
	}
	if err := tasks.QueryBalance(p.dispatcher, p.config, acct.BlockchainAddress, token.Symbol); err != nil {
		common.Log.Warningf("failed to request balance of %s; %s", acct.BlockchainAddress, err.Error())
	}
	if sink, err := ledger.SinkAddress(p.cache, token.Symbol); err == nil && sink != "" {
		if err := tasks.QueryBalance(p.dispatcher, p.config, sink, token.Symbol); err != nil {
			common.Log.Warningf("failed to request community fund balance of %s; %s", token.Symbol, err.Error())
		}
	}
}
