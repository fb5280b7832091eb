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

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/logic"
	"github.com/provideplatform/ussd/state"
	"github.com/spf13/cobra"
)

const defaultMachineFile = "ops/machine.yaml"

// pointers names the cache categories operators may derive keys for
var pointers = map[string]cache.Pointer{
	"account_creation":    cache.PointerAccountCreation,
	"account_token_lock":  cache.PointerAccountTokenLock,
	"account_village":     cache.PointerAccountVillage,
	"balance_spendable":   cache.PointerBalanceSpendable,
	"balances":            cache.PointerBalances,
	"none":                cache.PointerNone,
	"person":              cache.PointerPerson,
	"preferences":         cache.PointerPreferences,
	"response":            cache.PointerResponse,
	"session":             cache.PointerSession,
	"statement":           cache.PointerStatement,
	"token_active":        cache.PointerTokenActive,
	"token_data":          cache.PointerTokenData,
	"token_data_list":     cache.PointerTokenDataList,
	"token_default":       cache.PointerTokenDefault,
	"token_last_received": cache.PointerTokenLastReceived,
	"token_last_sent":     cache.PointerTokenLastSent,
	"token_sink_address":  cache.PointerTokenSinkAddress,
	"token_symbols_list":  cache.PointerTokenSymbolsList,
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ussdctl",
		Short:         "Operate a ussd menu deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newStatesCommand())
	cmd.AddCommand(newCacheKeyCommand())
	return cmd
}

// loadMachine builds the state machine from a menu graph against every
// registered guard and action
func loadMachine(path string) (*state.Machine, *state.Graph, error) {
	graph, err := state.LoadGraph(path)
	if err != nil {
		return nil, nil, err
	}
	machine, err := state.New(graph, logic.NewRegistry(&logic.Dependencies{}))
	if err != nil {
		return nil, nil, err
	}
	return machine, graph, nil
}

func newValidateCommand() *cobra.Command {
	var machineFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a menu graph against the registered guards and actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, graph, err := loadMachine(machineFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d states, %d transitions\n", machineFile, len(graph.States), len(graph.Transitions))
			return nil
		},
	}
	cmd.Flags().StringVarP(&machineFile, "machine", "m", defaultMachineFile, "menu graph file")
	return cmd
}

func newStatesCommand() *cobra.Command {
	var machineFile string
	cmd := &cobra.Command{
		Use:   "states",
		Short: "List the states of a menu graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			machine, _, err := loadMachine(machineFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, st := range machine.States() {
				flags := make([]string, 0, 2)
				if st.IsTerminal() {
					flags = append(flags, "terminal")
				}
				if machine.IsResumable(st.Name) {
					flags = append(flags, "resumable")
				}
				parent := st.Parent
				if parent == "" {
					parent = "-"
				}
				fmt.Fprintf(out, "%s\t%s\t%d\t%s\n", st.Name, parent, len(machine.Transitions(st.Name)), strings.Join(flags, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&machineFile, "machine", "m", defaultMachineFile, "menu graph file")
	return cmd
}

func newCacheKeyCommand() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "cache-key <pointer> [identifier...]",
		Short: "Derive the cache key of a value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pointer, ok := pointers[args[0]]
			if !ok {
				names := make([]string, 0, len(pointers))
				for name := range pointers {
					names = append(names, name)
				}
				sort.Strings(names)
				return fmt.Errorf("unknown pointer %q; one of %s", args[0], strings.Join(names, ", "))
			}

			key := cache.StringKey(pointer, args[1:]...)
			if address != "" {
				key = cache.AddressKey(address, pointer, args[1:]...)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "ledger address the value belongs to")
	return cmd
}
