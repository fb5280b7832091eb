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

	"gopkg.in/yaml.v3"
)

// Language is a language subscribers may select
type Language struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// LoadLanguages reads the ordered list of selectable languages
func LoadLanguages(path string) ([]Language, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read languages file %s; %s", path, err.Error())
	}

	languages := make([]Language, 0)
	if err := yaml.Unmarshal(raw, &languages); err != nil {
		return nil, fmt.Errorf("failed to parse languages file %s; %s", path, err.Error())
	}
	return languages, nil
}

// MenuLines renders languages as numbered menu lines
func MenuLines(languages []Language) []string {
	lines := make([]string, len(languages))
	for i, lang := range languages {
		lines[i] = fmt.Sprintf("%d. %s", i+1, lang.Name)
	}
	return lines
}
