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

package menu

import (
	"fmt"
	"strings"
)

// Response prefixes understood by USSD gateways
const (
	PrefixContinue = "CON"
	PrefixEnd      = "END"
)

// InvalidResponseError is returned when an assembled menu is not a well-formed
// gateway response
type InvalidResponseError struct {
	Response string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("malformed menu response %q", e.Response)
}

// ValidateResponse checks that text starts with CON or END and carries a body
func ValidateResponse(text string) error {
	prefix, body := SplitResponse(text)
	if prefix == "" || strings.TrimSpace(body) == "" {
		return &InvalidResponseError{Response: text}
	}
	return nil
}

// SplitResponse separates the CON/END prefix from the menu body; prefix is
// empty when text carries neither
func SplitResponse(text string) (prefix, body string) {
	for _, p := range []string{PrefixContinue, PrefixEnd} {
		if strings.HasPrefix(text, p+" ") {
			return p, text[len(p)+1:]
		}
	}
	return "", text
}

// SplitMenuList splits items into exactly three pages of up to split lines;
// an empty page holds the fallback phrase
func SplitMenuList(fallback string, items []string, split int) []string {
	if split < 1 {
		split = 1
	}

	pages := make([]string, 3)
	for i := range pages {
		start := i * split
		if start >= len(items) {
			pages[i] = fallback
			continue
		}
		end := start + split
		if end > len(items) {
			end = len(items)
		}
		pages[i] = strings.Join(items[start:end], "\n")
	}
	return pages
}
