// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
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

package job

import (
	"fmt"
	"strconv"
	"strings"
)

// GRES is a single generic resource tag, e.g. gpu:a100:2.
type GRES struct {
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
	Count int64  `json:"count" yaml:"count"`
}

// Key returns "name" or "name:type", the form used in resource mappings.
func (g GRES) Key() string {
	if g.Type == "" {
		return g.Name
	}
	return g.Name + ":" + g.Type
}

func (g GRES) String() string {
	return g.Key() + ":" + strconv.FormatInt(g.Count, 10)
}

// ParseGRES parses a comma separated GRES request. Each entry has the form
// name[:type][:count] and may carry a "gres/" prefix as printed in TRES
// strings; "name:type=count" is accepted as well. A missing count means 1.
func ParseGRES(s string) ([]GRES, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []GRES
	for _, raw := range strings.Split(s, ",") {
		entry := strings.TrimPrefix(strings.TrimSpace(raw), "gres/")
		if entry == "" {
			continue
		}
		entry = strings.Replace(entry, "=", ":", 1)

		parts := strings.Split(entry, ":")
		g := GRES{Name: parts[0], Count: 1}
		if g.Name == "" {
			return nil, fmt.Errorf("invalid GRES %q: empty name", raw)
		}

		switch len(parts) {
		case 1:
		case 2:
			if n, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
				g.Count = n
			} else {
				g.Type = parts[1]
			}
		case 3:
			n, err := strconv.ParseInt(parts[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid GRES %q: count %q is not numeric", raw, parts[2])
			}
			g.Type = parts[1]
			g.Count = n
		default:
			return nil, fmt.Errorf("invalid GRES %q: expected name[:type][:count]", raw)
		}

		if g.Count <= 0 {
			return nil, fmt.Errorf("invalid GRES %q: count must be positive", raw)
		}
		out = append(out, g)
	}
	return out, nil
}
