package main

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/provideplatform/ussd/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const machineFile = "../../ops/machine.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"validate", "states", "cache-key"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestValidateShippedMachine(t *testing.T) {
	out, err := execute(t, "validate", "--machine", machineFile)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
}

func TestValidateRejectsUnknownGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.yaml")
	graph := `
states:
  - name: initial_language_selection
  - name: initial_pin_entry
  - name: start
  - name: exit_pin_blocked
  - name: exit_invalid_menu_option
  - name: exit_invalid_input
transitions:
  - source: start
    guards: [is_lucky]
    destination: exit_invalid_input
`
	require.NoError(t, ioutil.WriteFile(path, []byte(graph), 0644))

	_, err := execute(t, "validate", "--machine", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown guard is_lucky")
}

func TestStatesListsResumability(t *testing.T) {
	out, err := execute(t, "states", "--machine", machineFile)
	require.NoError(t, err)

	lines := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.SplitN(line, "\t", 2)
		lines[fields[0]] = line
	}
	assert.Contains(t, lines["transaction_amount"], "resumable")
	assert.Contains(t, lines["transaction_product_selection"], "resumable")
	assert.NotContains(t, lines["community_fund_balances"], "resumable")
	assert.NotContains(t, lines["transaction_pin_authorization"], "resumable")
	assert.Contains(t, lines["exit_pin_blocked"], "terminal")
}

func TestCacheKey(t *testing.T) {
	out, err := execute(t, "cache-key", "session", "ATL-1")
	require.NoError(t, err)
	assert.Equal(t, cache.StringKey(cache.PointerSession, "ATL-1"), strings.TrimSpace(out))

	out, err = execute(t, "cache-key", "--address", "0xdeadbeef", "balances", "SRF")
	require.NoError(t, err)
	assert.Equal(t, cache.AddressKey("0xdeadbeef", cache.PointerBalances, "SRF"), strings.TrimSpace(out))

	out, err = execute(t, "cache-key", "token_sink_address", "SRF")
	require.NoError(t, err)
	assert.Equal(t, cache.StringKey(cache.PointerTokenSinkAddress, "SRF"), strings.TrimSpace(out))

	_, err = execute(t, "cache-key", "nonsense")
	assert.Error(t, err)
}
