// +build unit

package translation

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	return NewCatalog("en", map[string]map[string]string{
		"en": {
			"ussd.start": "CON Balance %{account_balance} %{account_token_name}",
			"ussd.help":  "END Help %{support_phone}",
		},
		"sw": {
			"ussd.start": "CON Salio %{account_balance} %{account_token_name}",
		},
	})
}

func TestTranslate(t *testing.T) {
	c := testCatalog()
	args := map[string]interface{}{"account_balance": "1.3", "account_token_name": "SRF"}

	assert.Equal(t, "CON Balance 1.3 SRF", c.Translate("ussd.start", "en", args))
	assert.Equal(t, "CON Salio 1.3 SRF", c.Translate("ussd.start", "sw", args))
	assert.Equal(t, "END Help 0757628885", c.Translate("ussd.help", "sw", map[string]interface{}{"support_phone": "0757628885"}))
	assert.Equal(t, "ussd.unknown", c.Translate("ussd.unknown", "en", nil))
}

func TestResolve(t *testing.T) {
	c := testCatalog()
	assert.Equal(t, "sw", c.Resolve("sw"))
	assert.Equal(t, "sw", c.Resolve("sw-KE"))
	assert.Equal(t, "en", c.Resolve("fr"))
	assert.Equal(t, "en", c.Resolve(""))
}

func TestLoadCatalogAndLanguages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "en.yaml"), []byte("ussd:\n  exit: \"END Thank you\"\nsms:\n  terms: \"Terms\"\n"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "sw.yaml"), []byte("ussd:\n  exit: \"END Asante\"\n"), 0644))

	c, err := LoadCatalog(dir, "en")
	require.NoError(t, err)
	assert.Equal(t, "END Asante", c.Translate("ussd.exit", "sw", nil))
	assert.Equal(t, "Terms", c.Translate("sms.terms", "sw", nil))

	_, err = LoadCatalog(dir, "fr")
	assert.Error(t, err)

	path := filepath.Join(dir, "languages.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte("- code: en\n  name: English\n- code: sw\n  name: Kiswahili\n"), 0644))
	languages, err := LoadLanguages(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1. English", "2. Kiswahili"}, MenuLines(languages))
}
