// +build unit

package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/jinzhu/gorm"
	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/dbtest"
	"github.com/provideplatform/ussd/ledger"
	"github.com/provideplatform/ussd/logic"
	"github.com/provideplatform/ussd/menu"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"
	"github.com/provideplatform/ussd/translation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	serviceCode     = "*483*46#"
	jsonServiceCode = "*384*96#"
	alicePhone      = "+254700000001"
	aliceAddress    = "0x1111111111111111111111111111111111111111"
	bobPhone        = "+254700000002"
	bobAddress      = "0x2222222222222222222222222222222222222222"
)

type recordingDispatcher struct {
	subjects []string
}

func (d *recordingDispatcher) Dispatch(subject string, payload interface{}) error {
	d.subjects = append(d.subjects, subject)
	return nil
}

type fixture struct {
	processor  *Processor
	store      *store.Store
	dispatcher *recordingDispatcher
	cache      cache.Cache
	db         *gorm.DB
}

func setup(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)

	db := dbtest.Open(t)

	cfg := &common.Config{
		ServiceCodes:         []string{serviceCode, jsonServiceCode},
		JSONServiceCodes:     []string{jsonServiceCode},
		SupportPhone:         "0757628885",
		Region:               "KE",
		ChainSpec:            "evm:test",
		DefaultTokenSymbol:   "SRF",
		DefaultTokenDecimals: 6,
		SessionTTL:           time.Minute,
		ReplayTTL:            time.Second * 10,
		PollInterval:         time.Millisecond,
		PollMaxRetries:       3,
		RequestTimeout:       time.Second * 5,
		StatementLimit:       9,
		TimeZone:             time.UTC,
	}

	catalog, err := translation.LoadCatalog("../ops/locale", "en")
	require.NoError(t, err)
	languages, err := translation.LoadLanguages("../ops/languages.yaml")
	require.NoError(t, err)
	graph, err := state.LoadGraph("../ops/machine.yaml")
	require.NoError(t, err)

	d := &recordingDispatcher{}
	registry := logic.NewRegistry(&logic.Dependencies{
		Config:     cfg,
		Cache:      c,
		Dispatcher: d,
		Notifier:   tasks.NewNotifier(d, catalog),
		Catalog:    catalog,
		Languages:  languages,
	})
	machine, err := state.New(graph, registry)
	require.NoError(t, err)

	s := store.NewStore(c, db, cfg, nil)
	assembler := menu.NewAssembler(cfg, c, db, catalog, languages)

	return &fixture{
		processor:  New(cfg, c, db, s, machine, assembler, d, catalog),
		store:      s,
		dispatcher: d,
		cache:      c,
		db:         db,
	}
}

func (f *fixture) subscriber(t *testing.T) *account.Account {
	hash, err := account.HashPin("1234")
	require.NoError(t, err)
	acct := &account.Account{
		PhoneNumber:       alicePhone,
		BlockchainAddress: aliceAddress,
		PasswordHash:      &hash,
		Status:            account.AccountStatusActive,
	}
	require.True(t, acct.Create(f.db))

	require.NoError(t, cache.SetJSON(f.cache, ledger.BalancesKey(aliceAddress, "SRF"), &ledger.Balances{
		Network:  decimal.NewFromInt(20000000),
		Incoming: decimal.Zero,
		Outgoing: decimal.NewFromInt(5000000),
	}, 0))
	return acct
}

func (f *fixture) recipient(t *testing.T) *account.Account {
	hash, err := account.HashPin("4321")
	require.NoError(t, err)
	acct := &account.Account{
		PhoneNumber:       bobPhone,
		BlockchainAddress: bobAddress,
		PasswordHash:      &hash,
		Status:            account.AccountStatusActive,
	}
	require.True(t, acct.Create(f.db))
	return acct
}

func (f *fixture) dial(t *testing.T, sessionID, text string) *Response {
	return f.dialCode(t, serviceCode, sessionID, text)
}

func (f *fixture) dialCode(t *testing.T, code, sessionID, text string) *Response {
	resp, err := f.processor.Handle(context.Background(), &Request{
		SessionID:   sessionID,
		ServiceCode: code,
		PhoneNumber: "0700000001",
		Text:        text,
	})
	require.NoError(t, err)
	require.NoError(t, menu.ValidateResponse(resp.Text))
	return resp
}

func TestNewSubscriberSelectsLanguage(t *testing.T) {
	f := setup(t)

	resp := f.dial(t, "call-1", "")
	assert.Equal(t, "initial_language_selection", resp.State)
	assert.Equal(t, alicePhone, resp.MSISDN)
	assert.Contains(t, resp.Text, "1. English\n2. Kiswahili")

	resp = f.dial(t, "call-1", "2")
	assert.Equal(t, "enter_village_selection", resp.State)
	assert.Contains(t, resp.Text, "CON Chagua kijiji chako")
	assert.NotContains(t, f.dispatcher.subjects, "ussd.ledger.account.create")

	resp = f.dial(t, "call-1", "2*1")
	assert.Equal(t, "enter_full_name", resp.State)
	resp = f.dial(t, "call-1", "2*1*Jane Doe")
	assert.Equal(t, "survey_gender_selection", resp.State)
	resp = f.dial(t, "call-1", "2*1*Jane Doe*2")
	assert.Equal(t, "economic_activity_selection", resp.State)
	resp = f.dial(t, "call-1", "2*1*Jane Doe*2*1")
	assert.Equal(t, "monthly_expenditure_query", resp.State)
	resp = f.dial(t, "call-1", "2*1*Jane Doe*2*1*1")
	assert.Equal(t, "twenty_thousand_band", resp.State)

	resp = f.dial(t, "call-1", "2*1*Jane Doe*2*1*1*2")
	assert.Equal(t, "exit_account_creation_prompt", resp.State)
	assert.Equal(t, "END Akaunti yako inatengenezwa. Utapokea ujumbe wa SMS akaunti yako ikiwa tayari.", resp.Text)
	assert.Contains(t, f.dispatcher.subjects, "ussd.ledger.account.create")

	survey, err := account.FindSurveyResponse(f.db, alicePhone)
	require.NoError(t, err)
	require.NotNil(t, survey)
	assert.Equal(t, "Batoufam", *survey.Village)
	assert.Equal(t, "female", *survey.Gender)
	assert.Equal(t, "agricultural_production", *survey.EconomicActivity)
	assert.Equal(t, "10000-15000", *survey.ExpenditureBand)
}

func TestInvalidLanguageSelection(t *testing.T) {
	f := setup(t)

	f.dial(t, "call-1", "")
	resp := f.dial(t, "call-1", "7")
	assert.Equal(t, "exit_invalid_menu_option", resp.State)
	assert.Equal(t, "END Invalid menu option. For help, call 0757628885.", resp.Text)
}

func TestSubscriberWithoutPinIsAskedForOne(t *testing.T) {
	f := setup(t)
	acct := &account.Account{PhoneNumber: alicePhone, BlockchainAddress: aliceAddress, Status: account.AccountStatusPending}
	require.True(t, acct.Create(f.db))

	resp := f.dial(t, "call-1", "")
	assert.Equal(t, "initial_pin_entry", resp.State)

	resp = f.dial(t, "call-1", "5678")
	assert.Equal(t, "initial_pin_confirmation", resp.State)

	require.NoError(t, cache.SetJSON(f.cache, ledger.BalancesKey(aliceAddress, "SRF"), &ledger.Balances{
		Network:  decimal.NewFromInt(1000000),
		Incoming: decimal.Zero,
		Outgoing: decimal.Zero,
	}, 0))
	resp = f.dial(t, "call-1", "5678*5678")
	assert.Equal(t, "start", resp.State)
	assert.Contains(t, resp.Text, "Balance 1 SRF")

	activated, err := account.FindByPhoneNumber(f.db, alicePhone)
	require.NoError(t, err)
	assert.True(t, activated.HasValidPin())
	assert.True(t, activated.VerifyPin("5678"))
}

func TestStartMenu(t *testing.T) {
	f := setup(t)
	f.subscriber(t)

	resp := f.dial(t, "call-1", "")
	assert.Equal(t, "start", resp.State)
	assert.Equal(t, "CON Balance 15 SRF\n1. Send\n2. My Account\n3. My vouchers\n4. Help", resp.Text)
	assert.Contains(t, f.dispatcher.subjects, "ussd.ledger.balance.query")
	assert.Contains(t, f.dispatcher.subjects, "ussd.metadata.person.query")

	resp = f.dial(t, "call-1", "4")
	assert.Equal(t, "help", resp.State)
	assert.Equal(t, "END For assistance call 0757628885", resp.Text)
}

func TestReplayedRequestDoesNotAdvance(t *testing.T) {
	f := setup(t)
	f.subscriber(t)

	f.dial(t, "call-1", "")
	first := f.dial(t, "call-1", "2")
	assert.Equal(t, "account_management", first.State)
	assert.False(t, first.Replayed)

	replayed := f.dial(t, "call-1", "2")
	assert.True(t, replayed.Replayed)
	assert.Equal(t, first.Text, replayed.Text)

	sess, err := f.store.Resolve("call-1")
	require.NoError(t, err)
	assert.Equal(t, "account_management", sess.State)
	assert.Equal(t, uint64(2), sess.Version)
}

func TestInterruptedAccountMenuResumesAtParent(t *testing.T) {
	f := setup(t)
	f.subscriber(t)

	f.dial(t, "call-1", "")
	f.dial(t, "call-1", "2")
	resp := f.dial(t, "call-1", "2*1")
	assert.Equal(t, "metadata_management", resp.State)

	resp = f.dial(t, "call-2", "")
	assert.Equal(t, "account_management", resp.State)
}

func TestInterruptedCallResumesAtParent(t *testing.T) {
	f := setup(t)
	f.subscriber(t)
	f.recipient(t)

	f.dial(t, "call-1", "")
	f.dial(t, "call-1", "1")
	resp := f.dial(t, "call-1", "1*0700000002")
	require.Equal(t, "transaction_amount", resp.State)

	interrupted, err := f.store.Resolve("call-1")
	require.NoError(t, err)
	assert.Equal(t, bobPhone, interrupted.GetString(store.DataRecipientPhone))

	resp = f.dial(t, "call-2", "")
	assert.Equal(t, "enter_transaction_recipient", resp.State)
	assert.Equal(t, "CON Enter phone number\n0. Back", resp.Text)

	resumed, err := f.store.Resolve("call-2")
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, "enter_transaction_recipient", resumed.State)
	assert.Equal(t, bobPhone, resumed.GetString(store.DataRecipientPhone))
}

func TestInterruptedOnboardingResumes(t *testing.T) {
	f := setup(t)

	f.dial(t, "call-1", "")
	f.dial(t, "call-1", "2")
	resp := f.dial(t, "call-1", "2*1")
	require.Equal(t, "enter_full_name", resp.State)

	resp = f.dial(t, "call-2", "")
	assert.Equal(t, "enter_village_selection", resp.State)
	assert.Contains(t, resp.Text, "CON Chagua kijiji chako")

	resumed, err := f.store.Resolve("call-2")
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, "sw", resumed.GetString(store.DataPreferredLanguage))
	assert.Equal(t, "Batoufam", resumed.GetString(store.DataSelectedVillage))
}

func TestOnboardingNotResumedOnceAccountExists(t *testing.T) {
	f := setup(t)

	f.dial(t, "call-1", "")
	f.dial(t, "call-1", "2")
	f.dial(t, "call-1", "2*1")
	f.subscriber(t)

	resp := f.dial(t, "call-2", "")
	assert.Equal(t, "start", resp.State)
}

func TestEmptyInputOnExistingSession(t *testing.T) {
	f := setup(t)
	f.subscriber(t)

	f.dial(t, "call-1", "")
	f.dial(t, "call-1", "2")
	resp := f.dial(t, "call-1", "2*")
	assert.Equal(t, "exit_invalid_input", resp.State)
	assert.True(t, strings.HasPrefix(resp.Text, "END "))
}

func TestEmptyInputRestartsJSONSession(t *testing.T) {
	f := setup(t)
	f.subscriber(t)

	f.dialCode(t, jsonServiceCode, "call-1", "")
	resp := f.dialCode(t, jsonServiceCode, "call-1", "2")
	assert.Equal(t, "account_management", resp.State)

	resp = f.dialCode(t, jsonServiceCode, "call-1", "2*")
	assert.Equal(t, "start", resp.State)
	assert.Equal(t, MessageTypeContinue, resp.Envelope().Data.MsgType)
}

func TestNonResumableCallRestarts(t *testing.T) {
	f := setup(t)
	f.subscriber(t)

	f.dial(t, "call-1", "")
	f.dial(t, "call-1", "2")
	resp := f.dial(t, "call-1", "2*3")
	assert.Equal(t, "account_balances_pin_authorization", resp.State)

	resp = f.dial(t, "call-2", "")
	assert.Equal(t, "start", resp.State)
}

func TestPinLockout(t *testing.T) {
	f := setup(t)
	f.subscriber(t)

	f.dial(t, "call-1", "")
	f.dial(t, "call-1", "2")
	resp := f.dial(t, "call-1", "2*3")
	assert.Equal(t, "CON Please enter your PIN\n0. Back", resp.Text)

	resp = f.dial(t, "call-1", "2*3*0000")
	assert.Equal(t, "account_balances_pin_authorization", resp.State)
	assert.Equal(t, "CON Please enter your PIN. Incorrect PIN. You have 2 attempts remaining.\n0. Back", resp.Text)

	resp = f.dial(t, "call-1", "2*3*0000*0000")
	assert.Equal(t, "account_balances_pin_authorization", resp.State)
	assert.Contains(t, resp.Text, "You have 1 attempts remaining.")

	resp = f.dial(t, "call-1", "2*3*0000*0000*0000")
	assert.Equal(t, "exit_pin_blocked", resp.State)
	assert.Equal(t, "END Your PIN has been blocked. For help, please call 0757628885.", resp.Text)

	resp = f.dial(t, "call-2", "")
	assert.Equal(t, "exit_pin_blocked", resp.State)

	locked, err := account.FindByPhoneNumber(f.db, alicePhone)
	require.NoError(t, err)
	assert.Equal(t, account.AccountStatusLocked, locked.Status)
}

func TestAuthorizedBalanceCheck(t *testing.T) {
	f := setup(t)
	f.subscriber(t)

	f.dial(t, "call-1", "")
	f.dial(t, "call-1", "2")
	f.dial(t, "call-1", "2*3")
	resp := f.dial(t, "call-1", "2*3*1234")
	assert.Equal(t, "account_balances", resp.State)
	assert.Equal(t, "END Your balance is 15 SRF\nYou can spend 15 SRF", resp.Text)
}

func TestTransferRecordsProduct(t *testing.T) {
	f := setup(t)
	f.subscriber(t)
	f.recipient(t)

	f.dial(t, "call-1", "")
	f.dial(t, "call-1", "1")
	f.dial(t, "call-1", "1*0700000002")
	resp := f.dial(t, "call-1", "1*0700000002*5")
	assert.Equal(t, "transaction_product_selection", resp.State)

	resp = f.dial(t, "call-1", "1*0700000002*5*5")
	assert.Equal(t, "transaction_pin_authorization", resp.State)

	resp = f.dial(t, "call-1", "1*0700000002*5*5*1234")
	assert.Equal(t, "exit_successful_transaction", resp.State)
	assert.Contains(t, f.dispatcher.subjects, "ussd.ledger.transfer")

	metas, err := ledger.TransactionMetaFrom(f.db, aliceAddress)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "service", metas[0].Reason)
	assert.Equal(t, bobAddress, metas[0].To)
	assert.Equal(t, "5", metas[0].Amount)
}

func TestInvalidServiceCode(t *testing.T) {
	f := setup(t)

	resp, err := f.processor.Handle(context.Background(), &Request{
		SessionID:   "call-1",
		ServiceCode: "*000#",
		PhoneNumber: "0700000001",
	})
	require.NoError(t, err)
	assert.Equal(t, "END The service code you entered is not supported. Please dial *483*46#.", resp.Text)

	sess, err := f.store.Resolve("call-1")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestInvalidPhoneNumber(t *testing.T) {
	f := setup(t)

	_, err := f.processor.Handle(context.Background(), &Request{
		SessionID:   "call-1",
		ServiceCode: serviceCode,
		PhoneNumber: "",
	})
	assert.True(t, errors.Is(err, ErrInvalidPhoneNumber))
}

func TestJSONServiceCode(t *testing.T) {
	f := setup(t)

	resp, err := f.processor.Handle(context.Background(), &Request{
		SessionID:   "call-1",
		ServiceCode: jsonServiceCode,
		PhoneNumber: "0700000001",
	})
	require.NoError(t, err)
	assert.True(t, resp.JSON)

	envelope := resp.Envelope()
	assert.Equal(t, 200, envelope.ErrCode)
	assert.Equal(t, MessageTypeContinue, envelope.Data.MsgType)
	assert.Equal(t, alicePhone, envelope.Data.MSISDN)
	assert.NotContains(t, envelope.Data.Menu, "CON")
}

func TestEnvelope(t *testing.T) {
	envelope := (&Response{Text: "END Bye", MSISDN: alicePhone}).Envelope()
	assert.Equal(t, MessageTypeEnd, envelope.Data.MsgType)
	assert.Equal(t, "Bye", envelope.Data.Menu)
}

func TestCorrelationID(t *testing.T) {
	assert.Equal(t, "call-1", CorrelationID(" call-1 ", alicePhone))
	assert.Equal(t, CorrelationID("", alicePhone), CorrelationID("", alicePhone))
	assert.NotEqual(t, CorrelationID("", alicePhone), CorrelationID("", "+254700000002"))
}

func TestSystemError(t *testing.T) {
	f := setup(t)
	assert.Equal(t, "END Sorry, we could not complete your request. Please try again later.", f.processor.SystemError())
}
