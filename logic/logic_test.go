// +build unit

package logic

import (
	"context"
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
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"
	"github.com/provideplatform/ussd/translation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alicePhone   = "+254700000001"
	aliceAddress = "0x1111111111111111111111111111111111111111"
	bobPhone     = "+254700000002"
	bobAddress   = "0x2222222222222222222222222222222222222222"
	carolPhone   = "+254700000003"
	carolAddress = "0x3333333333333333333333333333333333333333"
)

type dispatched struct {
	subject string
	payload interface{}
}

type recordingDispatcher struct {
	messages []dispatched
}

func (d *recordingDispatcher) Dispatch(subject string, payload interface{}) error {
	d.messages = append(d.messages, dispatched{subject: subject, payload: payload})
	return nil
}

func (d *recordingDispatcher) find(subject string) (interface{}, bool) {
	for _, m := range d.messages {
		if m.subject == subject {
			return m.payload, true
		}
	}
	return nil, false
}

type fixture struct {
	deps       *Dependencies
	registry   *state.Registry
	dispatcher *recordingDispatcher
	cache      cache.Cache
	db         *gorm.DB
}

func setup(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)

	db := dbtest.Open(t)

	catalog := translation.NewCatalog("en", map[string]map[string]string{
		"en": {"sms.pin_reset_initiated": "%{pin_initiator} reset your pin"},
		"sw": {"sms.pin_reset_initiated": "%{pin_initiator} amebadilisha pin yako"},
	})

	d := &recordingDispatcher{}
	deps := &Dependencies{
		Config: &common.Config{
			Region:               "KE",
			ChainSpec:            "evm:test",
			DefaultTokenSymbol:   "SRF",
			DefaultTokenDecimals: 6,
			PollInterval:         time.Millisecond,
			PollMaxRetries:       3,
			StatementLimit:       9,
			TimeZone:             time.UTC,
		},
		Cache:      c,
		Dispatcher: d,
		Notifier:   tasks.NewNotifier(d, catalog),
		Catalog:    catalog,
		Languages: []translation.Language{
			{Code: "en", Name: "English"},
			{Code: "sw", Name: "Kiswahili"},
		},
	}

	return &fixture{
		deps:       deps,
		registry:   NewRegistry(deps),
		dispatcher: d,
		cache:      c,
		db:         db,
	}
}

func (f *fixture) account(t *testing.T, phone, address, pin string) *account.Account {
	acct := &account.Account{PhoneNumber: phone, BlockchainAddress: address, Status: account.AccountStatusActive}
	require.True(t, acct.Create(f.db))
	if pin != "" {
		hash, err := account.HashPin(pin)
		require.NoError(t, err)
		require.NoError(t, acct.SetPasswordHash(f.db, hash))
	}
	return acct
}

func (f *fixture) balances(t *testing.T, address, symbol string, network int64) {
	require.NoError(t, cache.SetJSON(f.cache, ledger.BalancesKey(address, symbol), &ledger.Balances{
		Network:  decimal.NewFromInt(network),
		Incoming: decimal.Zero,
		Outgoing: decimal.Zero,
	}, 0))
}

func (f *fixture) context(acct *account.Account, st, input string, data map[string]interface{}) *state.Context {
	if data == nil {
		data = map[string]interface{}{}
	}
	msisdn := alicePhone
	if acct != nil {
		msisdn = acct.PhoneNumber
	}
	return &state.Context{
		Ctx:   context.Background(),
		Input: input,
		Session: &store.Session{
			ExternalSessionID: "session-1",
			MSISDN:            msisdn,
			State:             st,
			Data:              data,
		},
		Account: acct,
		DB:      f.db,
	}
}

func (f *fixture) check(t *testing.T, name string, c *state.Context) bool {
	g, ok := f.registry.Guard(name)
	require.True(t, ok, name)
	passed, err := g.Check(c)
	require.NoError(t, err)
	return passed
}

func (f *fixture) execute(t *testing.T, name string, c *state.Context) {
	a, ok := f.registry.Action(name)
	require.True(t, ok, name)
	require.NoError(t, a.Execute(c))
}

func TestMenuSelection(t *testing.T) {
	idx, ok := menuSelection("2", 3)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	for _, input := range []string{"0", "4", "00", "11", "22", "x", ""} {
		_, ok := menuSelection(input, 3)
		assert.False(t, ok, input)
	}
}

func TestLanguageSelectionCreatesAccount(t *testing.T) {
	f := setup(t)
	c := f.context(nil, "initial_language_selection", "2", nil)

	assert.True(t, f.check(t, "is_valid_language_selection", c))
	assert.False(t, f.check(t, "is_valid_language_selection", f.context(nil, "initial_language_selection", "3", nil)))

	f.execute(t, "save_preferred_language_selection", c)
	assert.Equal(t, "sw", c.Session.GetString(store.DataPreferredLanguage))

	f.execute(t, "process_account_creation", c)
	payload, ok := f.dispatcher.find("ussd.ledger.account.create")
	require.True(t, ok)
	req := payload.(*tasks.AccountCreationRequest)
	assert.Equal(t, alicePhone, req.PhoneNumber)
	assert.Equal(t, "sw", req.PreferredLanguage)
	assert.Equal(t, "evm:test", req.ChainSpec)
}

func TestVillageSelection(t *testing.T) {
	f := setup(t)

	assert.True(t, f.check(t, "is_valid_village_selection", f.context(nil, "enter_village_selection", "6", nil)))
	for _, input := range []string{"0", "7", "11", "x"} {
		assert.False(t, f.check(t, "is_valid_village_selection", f.context(nil, "enter_village_selection", input, nil)), input)
	}

	c := f.context(nil, "enter_village_selection", "2", nil)
	f.execute(t, "save_village_selection", c)
	assert.Equal(t, "Bameka", c.Session.GetString(store.DataSelectedVillage))
	assert.Equal(t, "Bameka", account.CachedVillage(f.cache, alicePhone))
}

func TestSurveyCreatesAccountWithProfile(t *testing.T) {
	f := setup(t)
	data := map[string]interface{}{
		store.DataPreferredLanguage: "en",
		store.DataSelectedVillage:   "Batoufam",
	}

	assert.True(t, f.check(t, "is_valid_name", f.context(nil, "enter_full_name", "Jane Akinyi Doe", data)))
	f.execute(t, "save_survey_entry", f.context(nil, "enter_full_name", " Jane Akinyi Doe ", data))

	assert.True(t, f.check(t, "is_valid_gender_selection", f.context(nil, "survey_gender_selection", "2", data)))
	f.execute(t, "save_survey_entry", f.context(nil, "survey_gender_selection", "2", data))

	assert.True(t, f.check(t, "is_valid_economic_activity_selection", f.context(nil, "economic_activity_selection", "15", data)))
	assert.False(t, f.check(t, "is_valid_economic_activity_selection", f.context(nil, "economic_activity_selection", "4", data)))
	f.execute(t, "save_survey_entry", f.context(nil, "economic_activity_selection", "15", data))

	assert.True(t, f.check(t, "is_valid_monthly_expenditure_answer", f.context(nil, "monthly_expenditure_query", "2", data)))
	assert.False(t, f.check(t, "is_valid_monthly_expenditure_answer", f.context(nil, "monthly_expenditure_query", "4", data)))
	f.execute(t, "save_survey_entry", f.context(nil, "monthly_expenditure_query", "2", data))

	assert.Equal(t, "Jane Akinyi Doe", data[store.DataFullName])
	assert.Equal(t, "female", data[store.DataGender])
	assert.Equal(t, "other", data[store.DataEconomicActivity])
	assert.Equal(t, "20000-35000", data[store.DataMonthlyExpenditure])

	band := f.context(nil, "thirty_five_thousand_band", "3", data)
	assert.True(t, f.check(t, "is_valid_expenditure_band_selection", band))
	assert.False(t, f.check(t, "is_valid_expenditure_band_selection", f.context(nil, "thirty_five_thousand_band", "4", data)))
	assert.False(t, f.check(t, "is_valid_expenditure_band_selection", f.context(nil, "monthly_expenditure_query", "1", data)))
	f.execute(t, "process_account_creation", band)

	payload, ok := f.dispatcher.find("ussd.ledger.account.create")
	require.True(t, ok)
	req := payload.(*tasks.AccountCreationRequest)
	assert.Equal(t, "Batoufam", req.Village)
	require.NotNil(t, req.Person)
	assert.Equal(t, "Jane", req.Person.GivenName)
	assert.Equal(t, "Akinyi Doe", req.Person.FamilyName)
	assert.Equal(t, "female", req.Person.Gender)
	assert.Equal(t, "Batoufam", req.Person.Location)

	resp, err := account.FindSurveyResponse(f.db, alicePhone)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "Batoufam", *resp.Village)
	assert.Equal(t, "other", *resp.EconomicActivity)
	assert.Equal(t, "20000-35000", *resp.MonthlyExpenditure)
	assert.Equal(t, "30000-35000", *resp.ExpenditureBand)

	// a second onboarding attempt replaces the earlier answers
	f.execute(t, "process_account_creation", f.context(nil, "thirty_five_thousand_band", "1", data))
	replaced, err := account.FindSurveyResponse(f.db, alicePhone)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, replaced.ID)
	assert.Equal(t, "20000-25000", *replaced.ExpenditureBand)
}

func TestSplitFullName(t *testing.T) {
	given, family := splitFullName("Jane")
	assert.Equal(t, "Jane", given)
	assert.Equal(t, "Unknown", family)

	given, family = splitFullName("  ")
	assert.Equal(t, "Unknown", given)
	assert.Equal(t, "Unknown", family)
}

func TestSaveSurveyEntryOutsideSurveyState(t *testing.T) {
	f := setup(t)
	a, _ := f.registry.Action("save_survey_entry")
	assert.Error(t, a.Execute(f.context(nil, "enter_village_selection", "1", nil)))
}

func TestChangePreferredLanguage(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")

	f.execute(t, "change_preferred_language", f.context(alice, "select_preferred_language", "2", nil))
	assert.Equal(t, "sw", account.PreferredLanguage(f.cache, aliceAddress))

	_, ok := f.dispatcher.find("ussd.metadata.preferences.upsert")
	assert.True(t, ok)
}

func TestPinFormatGuards(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")

	assert.True(t, f.check(t, "is_valid_pin", f.context(alice, "initial_pin_entry", "0000", nil)))
	assert.False(t, f.check(t, "is_valid_pin", f.context(alice, "initial_pin_entry", "123", nil)))
	assert.False(t, f.check(t, "is_valid_pin", f.context(alice, "initial_pin_entry", "12a4", nil)))

	assert.False(t, f.check(t, "is_valid_new_pin", f.context(alice, "new_pin_entry", "1234", nil)))
	assert.True(t, f.check(t, "is_valid_new_pin", f.context(alice, "new_pin_entry", "4321", nil)))
}

func TestPinConfirmation(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")

	c := f.context(alice, "new_pin_entry", "4321", nil)
	f.execute(t, "save_initial_pin_to_session_data", c)
	assert.NotEqual(t, "4321", c.Session.GetString(store.DataInitialPin))

	confirm := f.context(alice, "new_pin_confirmation", "4321", c.Session.Data)
	assert.True(t, f.check(t, "pins_match", confirm))
	assert.False(t, f.check(t, "pins_match", f.context(alice, "new_pin_confirmation", "9999", c.Session.Data)))

	f.execute(t, "complete_pin_change", confirm)
	_, ok := confirm.Session.Get(store.DataInitialPin)
	assert.False(t, ok)

	reloaded, err := account.FindByPhoneNumber(f.db, alicePhone)
	require.NoError(t, err)
	assert.True(t, reloaded.VerifyPin("4321"))
	assert.False(t, reloaded.VerifyPin("1234"))
}

func TestPinLockout(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")

	c := f.context(alice, "enter_current_pin", "0000", nil)
	assert.False(t, f.check(t, "is_authorized_pin", c))
	assert.False(t, f.check(t, "is_last_pin_attempt", c))

	f.execute(t, "record_failed_pin_attempt", c)
	assert.Equal(t, 1, alice.FailedPinAttempts)
	assert.False(t, f.check(t, "is_last_pin_attempt", c))

	f.execute(t, "record_failed_pin_attempt", c)
	assert.Equal(t, 2, alice.FailedPinAttempts)
	assert.True(t, f.check(t, "is_last_pin_attempt", c))

	f.execute(t, "record_failed_pin_attempt", c)
	assert.Equal(t, account.MaxPinAttempts, alice.FailedPinAttempts)
	assert.Equal(t, account.AccountStatusLocked, alice.Status)

	// the correct pin no longer authorizes a blocked account
	assert.False(t, f.check(t, "is_authorized_pin", f.context(alice, "enter_current_pin", "1234", nil)))
}

func TestAuthorizedPinResetsAttempts(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	f.execute(t, "record_failed_pin_attempt", f.context(alice, "enter_current_pin", "0000", nil))

	c := f.context(alice, "enter_current_pin", "1234", nil)
	assert.True(t, f.check(t, "is_authorized_pin", c))
	f.execute(t, "reset_failed_pin_attempts", c)
	assert.Equal(t, 0, alice.FailedPinAttempts)
}

func TestRequireAccount(t *testing.T) {
	f := setup(t)
	g, _ := f.registry.Guard("is_authorized_pin")
	_, err := g.Check(f.context(nil, "enter_current_pin", "1234", nil))
	assert.Error(t, err)
}

func TestRecipientGuards(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	f.account(t, bobPhone, bobAddress, "1234")
	pending := &account.Account{PhoneNumber: carolPhone, BlockchainAddress: carolAddress, Status: account.AccountStatusPending}
	require.True(t, pending.Create(f.db))

	assert.True(t, f.check(t, "is_valid_recipient", f.context(alice, "enter_transaction_recipient", "0700000002", nil)))
	assert.False(t, f.check(t, "is_valid_recipient", f.context(alice, "enter_transaction_recipient", "0700000001", nil)))
	assert.False(t, f.check(t, "is_valid_recipient", f.context(alice, "enter_transaction_recipient", "0700000003", nil)))
	assert.False(t, f.check(t, "is_valid_recipient", f.context(alice, "enter_transaction_recipient", "0700000009", nil)))
	assert.False(t, f.check(t, "is_valid_recipient", f.context(alice, "enter_transaction_recipient", "abc", nil)))

	c := f.context(alice, "enter_transaction_recipient", "0700000002", nil)
	f.execute(t, "save_recipient_phone_to_session_data", c)
	assert.Equal(t, bobPhone, c.Session.GetString(store.DataRecipientPhone))

	f.execute(t, "retrieve_recipient_metadata", c)
	payload, ok := f.dispatcher.find("ussd.metadata.person.query")
	require.True(t, ok)
	assert.Equal(t, bobAddress, payload.(*tasks.MetadataQuery).Address)
}

func TestHasSameToken(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	f.account(t, bobPhone, bobAddress, "1234")
	require.NoError(t, ledger.SetActiveToken(f.cache, aliceAddress, "GFT"))

	c := f.context(alice, "enter_transaction_recipient", "0700000002", nil)
	assert.True(t, f.check(t, "has_same_token", c))

	f.deps.Config.RestrictSameTokenTransfers = true
	assert.False(t, f.check(t, "has_same_token", c))

	require.NoError(t, ledger.SetActiveToken(f.cache, bobAddress, "GFT"))
	assert.True(t, f.check(t, "has_same_token", c))
}

func TestTransactionAmountGuards(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")

	assert.True(t, f.check(t, "is_valid_transaction_amount", f.context(alice, "enter_transaction_amount", "10.5", nil)))
	assert.False(t, f.check(t, "is_valid_transaction_amount", f.context(alice, "enter_transaction_amount", "0", nil)))
	assert.False(t, f.check(t, "is_valid_transaction_amount", f.context(alice, "enter_transaction_amount", "-3", nil)))
	assert.False(t, f.check(t, "is_valid_transaction_amount", f.context(alice, "enter_transaction_amount", "ten", nil)))

	// without a cached spendable balance nothing is affordable
	assert.False(t, f.check(t, "has_sufficient_balance", f.context(alice, "enter_transaction_amount", "1", nil)))

	f.balances(t, aliceAddress, "SRF", 50000000)
	f.execute(t, "cache_spendable_balance", f.context(alice, "start", "1", nil))

	spendable, err := ledger.CachedSpendableBalance(f.cache, aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, "50", ledger.FormatAmount(spendable))

	assert.True(t, f.check(t, "has_sufficient_balance", f.context(alice, "enter_transaction_amount", "50", nil)))
	assert.False(t, f.check(t, "has_sufficient_balance", f.context(alice, "enter_transaction_amount", "50.01", nil)))
}

func TestProcessTransactionRequest(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	f.account(t, bobPhone, bobAddress, "1234")
	f.balances(t, aliceAddress, "SRF", 50000000)

	c := f.context(alice, "enter_transaction_amount", "12.5", map[string]interface{}{
		store.DataRecipientPhone: bobPhone,
	})
	f.execute(t, "save_transaction_amount_to_session_data", c)
	assert.Equal(t, "12.5", c.Session.GetString(store.DataTransactionAmount))

	f.execute(t, "process_transaction_request", c)
	payload, ok := f.dispatcher.find("ussd.ledger.transfer")
	require.True(t, ok)
	req := payload.(*tasks.TransferRequest)
	assert.Equal(t, aliceAddress, req.From)
	assert.Equal(t, bobAddress, req.To)
	assert.Equal(t, "12500000", req.Value)
	assert.Equal(t, "SRF", req.TokenSymbol)
}

func TestProductSelectionRecordsTransactionMeta(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	f.account(t, bobPhone, bobAddress, "1234")
	f.balances(t, aliceAddress, "SRF", 50000000)

	assert.True(t, f.check(t, "is_valid_product_selection", f.context(alice, "transaction_product_selection", "5", nil)))
	assert.False(t, f.check(t, "is_valid_product_selection", f.context(alice, "transaction_product_selection", "6", nil)))
	assert.False(t, f.check(t, "is_valid_product_selection", f.context(alice, "transaction_product_selection", "00", nil)))

	data := map[string]interface{}{
		store.DataRecipientPhone:    bobPhone,
		store.DataTransactionAmount: "3",
	}
	f.execute(t, "save_transaction_product_to_session_data", f.context(alice, "transaction_product_selection", "2", data))
	assert.Equal(t, "garden_product", data[store.DataTransactionProduct])

	f.execute(t, "process_transaction_request", f.context(alice, "transaction_pin_authorization", "1234", data))

	metas, err := ledger.TransactionMetaFrom(f.db, aliceAddress)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "garden_product", metas[0].Reason)
	assert.Equal(t, bobAddress, metas[0].To)
	assert.Equal(t, "3", metas[0].Amount)
}

func TestQueryAccountTokens(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	require.NoError(t, ledger.AddTokenSymbol(f.cache, aliceAddress, "GFT"))
	require.NoError(t, ledger.AddTokenSymbol(f.cache, aliceAddress, "MKT"))
	require.NoError(t, ledger.SetLastSentToken(f.cache, aliceAddress, "MKT"))
	f.balances(t, aliceAddress, "SRF", 1000000)
	f.balances(t, aliceAddress, "GFT", 5000000)
	f.balances(t, aliceAddress, "MKT", 2000000)

	c := f.context(alice, "start", "3", nil)
	f.execute(t, "query_account_tokens", c)

	entries := AccountTokens(c.Session)
	require.Len(t, entries, 3)
	assert.Equal(t, "MKT", entries[0].Symbol)
	assert.Equal(t, "GFT", entries[1].Symbol)
	assert.Equal(t, "SRF", entries[2].Symbol)
	assert.Equal(t, "5", ledger.FormatAmount(entries[1].Balance))

	_, ok := f.dispatcher.find("ussd.ledger.tokens.query")
	assert.True(t, ok)
}

func TestTokenSelection(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	data := map[string]interface{}{
		store.DataAccountTokens: []ledger.TokenEntry{
			{TokenData: ledger.TokenData{Symbol: "SRF", Decimals: 6}, Balance: decimal.NewFromInt(1)},
			{TokenData: ledger.TokenData{Symbol: "GFT", Decimals: 6}, Balance: decimal.NewFromInt(5)},
		},
	}

	assert.True(t, f.check(t, "is_valid_token_selection", f.context(alice, "first_account_tokens_set", "2", data)))
	assert.True(t, f.check(t, "is_valid_token_selection", f.context(alice, "first_account_tokens_set", "gft", data)))
	assert.False(t, f.check(t, "is_valid_token_selection", f.context(alice, "first_account_tokens_set", "3", data)))
	assert.False(t, f.check(t, "is_valid_token_selection", f.context(alice, "first_account_tokens_set", "11", data)))

	c := f.context(alice, "first_account_tokens_set", "2", data)
	f.execute(t, "process_token_selection", c)
	f.execute(t, "set_selected_active_token", c)

	symbol, err := ledger.ActiveTokenSymbol(f.cache, aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, "GFT", symbol)
}

func TestLockedAccountTokenSelection(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	require.NoError(t, ledger.LockAccountToken(f.cache, aliceAddress, "MUN"))
	data := map[string]interface{}{
		store.DataAccountTokens: []ledger.TokenEntry{
			{TokenData: ledger.TokenData{Symbol: "MUN", Decimals: 6}, Balance: decimal.NewFromInt(1)},
			{TokenData: ledger.TokenData{Symbol: "GFT", Decimals: 6}, Balance: decimal.NewFromInt(5)},
		},
	}

	assert.True(t, f.check(t, "is_valid_token_selection", f.context(alice, "first_account_tokens_set", "1", data)))
	assert.False(t, f.check(t, "is_valid_token_selection", f.context(alice, "first_account_tokens_set", "2", data)))
}

func TestQueryStatement(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")

	f.execute(t, "query_statement", f.context(alice, "account_statement_pin_authorization", "1234", nil))
	payload, ok := f.dispatcher.find("ussd.ledger.statement.query")
	require.True(t, ok)
	assert.Equal(t, 9, payload.(*tasks.StatementQuery).Limit)
}

func TestNameAndGenderGuards(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")

	assert.True(t, f.check(t, "is_valid_name", f.context(alice, "enter_given_name", "Mary-Jane O'Neil", nil)))
	assert.False(t, f.check(t, "is_valid_name", f.context(alice, "enter_given_name", "R2D2", nil)))
	assert.False(t, f.check(t, "is_valid_name", f.context(alice, "enter_given_name", "  ", nil)))

	assert.True(t, f.check(t, "is_valid_gender_selection", f.context(alice, "enter_gender", "3", nil)))
	assert.False(t, f.check(t, "is_valid_gender_selection", f.context(alice, "enter_gender", "4", nil)))
}

func TestEditUserMetadata(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	require.NoError(t, account.CachePersonMetadata(f.cache, aliceAddress, &account.PersonMetadata{GivenName: "Alice", FamilyName: "Wanjiru"}))

	data := map[string]interface{}{}
	f.execute(t, "save_metadata_attribute_to_session_data", f.context(alice, "enter_gender", "2", data))
	f.execute(t, "save_metadata_attribute_to_session_data", f.context(alice, "enter_products", "milk, eggs", data))
	assert.Equal(t, "female", data[AttributeGender])

	c := f.context(alice, "metadata_edit_pin_authorization", "1234", data)
	f.execute(t, "edit_user_metadata_attribute", c)
	assert.Empty(t, c.Session.Data)

	person, err := account.CachedPersonMetadata(f.cache, aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, "Alice Wanjiru", person.FullName())
	assert.Equal(t, "female", person.Gender)
	assert.Equal(t, []string{"milk", "eggs"}, person.Products)

	_, ok := f.dispatcher.find("ussd.metadata.person.upsert")
	assert.True(t, ok)
}

func TestSaveMetadataAttributeOutsideProfileState(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")

	a, _ := f.registry.Action("save_metadata_attribute_to_session_data")
	assert.Error(t, a.Execute(f.context(alice, "start", "Alice", nil)))
}

func TestGuardianAddition(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	f.account(t, bobPhone, bobAddress, "1234")

	c := f.context(alice, "enter_guardian_phone", "0700000002", nil)
	assert.True(t, f.check(t, "is_valid_guardian_addition", c))
	f.execute(t, "save_guardian_to_session_data", c)
	f.execute(t, "add_pin_guardian", c)
	assert.Equal(t, []string{bobPhone}, alice.GuardianList())

	cases := map[string]string{
		"0700000002": FailureGuardianExists,
		"0700000001": FailureGuardianIsSelf,
		"0700000009": FailureGuardianNotFound,
		"abc":        FailureGuardianNotFound,
	}
	for input, reason := range cases {
		c := f.context(alice, "enter_guardian_phone", input, nil)
		assert.False(t, f.check(t, "is_valid_guardian_addition", c), input)
		f.execute(t, "record_guardian_addition_failure", c)
		assert.Equal(t, reason, c.Session.GetString(store.DataFailureReason), input)
	}
}

func TestGuardianLimit(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	f.account(t, bobPhone, bobAddress, "1234")
	for _, g := range []string{"+254700000011", "+254700000012", "+254700000013"} {
		require.NoError(t, alice.AddGuardian(f.db, g))
	}

	c := f.context(alice, "enter_guardian_phone", "0700000002", nil)
	assert.False(t, f.check(t, "is_valid_guardian_addition", c))
	f.execute(t, "record_guardian_addition_failure", c)
	assert.Equal(t, FailureGuardianLimitExhausted, c.Session.GetString(store.DataFailureReason))
}

func TestGuardianRemoval(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	require.NoError(t, alice.AddGuardian(f.db, bobPhone))

	c := f.context(alice, "enter_guardian_removal_phone", "0700000002", nil)
	assert.True(t, f.check(t, "is_set_pin_guardian", c))
	f.execute(t, "save_guardian_to_session_data", c)
	f.execute(t, "remove_pin_guardian", c)
	assert.Empty(t, alice.GuardianList())

	missing := f.context(alice, "enter_guardian_removal_phone", "0700000003", nil)
	assert.False(t, f.check(t, "is_set_pin_guardian", missing))
	f.execute(t, "record_guardian_removal_failure", missing)
	assert.Equal(t, FailureGuardianNotSet, missing.Session.GetString(store.DataFailureReason))
}

func TestGuardianInitiatedPinReset(t *testing.T) {
	f := setup(t)
	alice := f.account(t, alicePhone, aliceAddress, "1234")
	bob := f.account(t, bobPhone, bobAddress, "1234")
	carol := f.account(t, carolPhone, carolAddress, "1234")
	require.NoError(t, alice.AddGuardian(f.db, bobPhone))
	require.NoError(t, account.CachePreferences(f.cache, aliceAddress, &account.Preferences{PreferredLanguage: "sw"}))

	assert.True(t, f.check(t, "is_dialers_pin_guardian", f.context(bob, "enter_guarded_account_phone", "0700000001", nil)))
	assert.False(t, f.check(t, "is_dialers_pin_guardian", f.context(carol, "enter_guarded_account_phone", "0700000001", nil)))

	c := f.context(bob, "enter_guarded_account_phone", "0700000001", nil)
	f.execute(t, "save_guarded_account_to_session_data", c)
	assert.Equal(t, alicePhone, c.Session.GetString(store.DataGuardedAccountPhone))

	f.execute(t, "initiate_pin_reset", c)

	reset, err := account.FindByPhoneNumber(f.db, alicePhone)
	require.NoError(t, err)
	assert.Nil(t, reset.PasswordHash)
	assert.Equal(t, account.AccountStatusReset, reset.Status)

	payload, ok := f.dispatcher.find("ussd.notify.sms")
	require.True(t, ok)
	sms := payload.(*tasks.SMSNotification)
	assert.Equal(t, alicePhone, sms.Recipient)
	assert.Contains(t, sms.Message, "amebadilisha pin yako")
}

func TestPinResetForUnknownAccount(t *testing.T) {
	f := setup(t)
	bob := f.account(t, bobPhone, bobAddress, "1234")

	a, _ := f.registry.Action("initiate_pin_reset")
	err := a.Execute(f.context(bob, "guarded_account_pin_authorization", "1234", map[string]interface{}{
		store.DataGuardedAccountPhone: alicePhone,
	}))
	assert.Equal(t, common.ErrAccountNotFound, err)
}
