// Copyright 2019 Michael J. Fromberger. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package depcodec

import (
	"fmt"
	"strings"
)

// RenderMakefile renders l in the classic "-MD" depfile format a compiler
// would otherwise have written directly:
//
//	target: dep1 \
//	 dep2 \
//	 dep3
//
// A space within a path is escaped with a backslash, matching Make's own
// convention for path arguments.
func RenderMakefile(l List) []byte {
	var b strings.Builder
	b.WriteString(escapeMakePath(l.Target))
	b.WriteString(":")
	for i, p := range l.Paths {
		if i == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(" \\\n ")
		}
		b.WriteString(escapeMakePath(p))
	}
	b.WriteString("\n")
	return []byte(b.String())
}

func escapeMakePath(p string) string {
	return strings.ReplaceAll(p, " ", `\ `)
}

func unescapeMakePath(p string) string {
	return strings.ReplaceAll(p, `\ `, " ")
}

// ParseMakefile parses a single-target depfile in the format [RenderMakefile]
// produces (and that compiler -MD output generally follows): one rule,
// continuation lines joined with a trailing backslash.
func ParseMakefile(data []byte) (List, error) {
	text := strings.ReplaceAll(string(data), "\\\n", " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return List{}, fmt.Errorf("depcodec: empty depfile")
	}

	target, rest, ok := strings.Cut(text, ":")
	if !ok {
		return List{}, fmt.Errorf("depcodec: depfile missing ':' separator")
	}

	fields := splitMakeFields(rest)
	paths := make([]string, len(fields))
	for i, f := range fields {
		paths[i] = unescapeMakePath(f)
	}
	return List{Target: unescapeMakePath(strings.TrimSpace(target)), Paths: paths}, nil
}

// splitMakeFields splits s on unescaped whitespace, treating "\ " as a
// literal space within a field rather than a separator.
func splitMakeFields(s string) []string {
	var fields []string
	var cur strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		switch {
		case runes[i] == '\\' && i+1 < len(runes) && runes[i+1] == ' ':
			cur.WriteString(`\ `)
			i++
		case runes[i] == ' ' || runes[i] == '\t':
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(runes[i])
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}
