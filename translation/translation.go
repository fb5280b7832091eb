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

package translation

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"

	"github.com/provideplatform/ussd/common"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Catalog resolves translation keys such as "ussd.start" to display text in a
// given language. Text may reference arguments as %{name}.
type Catalog struct {
	fallback string
	entries  map[string]map[string]string
	codes    []string
	matcher  language.Matcher
}

// NewCatalog initializes a catalog from flattened entries keyed by language code
func NewCatalog(fallback string, entries map[string]map[string]string) *Catalog {
	codes := make([]string, 0, len(entries))
	for code := range entries {
		if code != fallback {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	codes = append([]string{fallback}, codes...)

	tags := make([]language.Tag, len(codes))
	for i, code := range codes {
		tags[i] = language.Make(code)
	}

	return &Catalog{
		fallback: fallback,
		entries:  entries,
		codes:    codes,
		matcher:  language.NewMatcher(tags),
	}
}

// LoadCatalog reads every <lang>.yaml file in dir
func LoadCatalog(dir, fallback string) (*Catalog, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}

	entries := map[string]map[string]string{}
	for _, path := range paths {
		raw, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read locale file %s; %s", path, err.Error())
		}

		tree := map[string]interface{}{}
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse locale file %s; %s", path, err.Error())
		}

		lang := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		entries[lang] = map[string]string{}
		flatten("", tree, entries[lang])
		common.Log.Debugf("loaded %d translation(s) for %s", len(entries[lang]), lang)
	}

	if _, ok := entries[fallback]; !ok {
		return nil, &common.InitializationError{Reason: fmt.Sprintf("no translations for fallback language %s in %s", fallback, dir)}
	}

	return NewCatalog(fallback, entries), nil
}

func flatten(prefix string, tree map[string]interface{}, out map[string]string) {
	for key, val := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		switch v := val.(type) {
		case map[string]interface{}:
			flatten(key, v, out)
		case string:
			out[key] = v
		default:
			out[key] = fmt.Sprintf("%v", v)
		}
	}
}

// Fallback returns the fallback language code
func (c *Catalog) Fallback() string {
	return c.fallback
}

// Resolve returns the closest supported language for lang
func (c *Catalog) Resolve(lang string) string {
	if _, ok := c.entries[lang]; ok {
		return lang
	}
	if lang == "" {
		return c.fallback
	}
	_, idx, confidence := c.matcher.Match(language.Make(lang))
	if confidence == language.No {
		return c.fallback
	}
	return c.codes[idx]
}

// Translate renders key in lang, falling back to the fallback language and then to the key itself
func (c *Catalog) Translate(key, lang string, args map[string]interface{}) string {
	text, ok := c.entries[c.Resolve(lang)][key]
	if !ok {
		text, ok = c.entries[c.fallback][key]
	}
	if !ok {
		common.Log.Warningf("missing translation for %s", key)
		return key
	}

	if len(args) == 0 {
		return text
	}

	pairs := make([]string, 0, len(args)*2)
	for name, val := range args {
		pairs = append(pairs, fmt.Sprintf("%%{%s}", name), fmt.Sprintf("%v", val))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
