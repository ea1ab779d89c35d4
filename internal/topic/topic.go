/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
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

package topic

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Wildcard levels.
const (
	SingleLevel = "+"
	MultiLevel  = "#"
	separator   = "/"
)

// Validation errors.
var (
	ErrEmpty           = errors.New("topic is empty")
	ErrInvalidUTF8     = errors.New("topic is not valid UTF-8")
	ErrWildcardInName  = errors.New("wildcard in topic name")
	ErrInvalidWildcard = errors.New("wildcard must occupy a whole level")
	ErrMultiLevelLast  = errors.New("'#' must be the last level")
)

// ValidateName checks a topic name used in PUBLISH.
func ValidateName(name string) error {
	if err := validateCommon(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, SingleLevel+MultiLevel) {
		return ErrWildcardInName
	}
	return nil
}

// ValidateFilter checks a topic filter used in SUBSCRIBE and UNSUBSCRIBE.
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}
	levels := strings.Split(filter, separator)
	for i, level := range levels {
		switch {
		case level == MultiLevel:
			if i != len(levels)-1 {
				return ErrMultiLevelLast
			}
		case level == SingleLevel:
		case strings.ContainsAny(level, SingleLevel+MultiLevel):
			return ErrInvalidWildcard
		}
	}
	return nil
}

func validateCommon(s string) error {
	if s == "" {
		return ErrEmpty
	}
	if !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
		return ErrInvalidUTF8
	}
	return nil
}

// IsPattern reports whether s contains a wildcard.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, SingleLevel+MultiLevel)
}

// MatchPattern matches a topic name against a single filter.
func MatchPattern(filter, name string) bool {
	if strings.HasPrefix(name, "$") && (strings.HasPrefix(filter, SingleLevel) || strings.HasPrefix(filter, MultiLevel)) {
		return false
	}
	return matchLevels(strings.Split(filter, separator), strings.Split(name, separator))
}

func matchLevels(filter, name []string) bool {
	for i, level := range filter {
		if level == MultiLevel {
			return true
		}
		if i >= len(name) {
			return false
		}
		if level != SingleLevel && level != name[i] {
			return false
		}
	}
	return len(filter) == len(name)
}
