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
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"k8s.io/apimachinery/pkg/util/validation"
)

const namePrefix = "slurm-"

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

var lower = cases.Lower(language.Und)

// ObjectName derives the orchestration object name from a job identity:
// slurm-<cluster>-<id>, folded into a DNS-1123 label. Names that would
// exceed the label limit are truncated and suffixed with the idempotency key
// so distinct identities cannot collide.
func ObjectName(id Identity) string {
	name := namePrefix + sanitize(id.Cluster()) + "-" + sanitize(id.ID())
	name = strings.Trim(name, "-")

	if len(name) <= validation.DNS1123LabelMaxLength && len(validation.IsDNS1123Label(name)) == 0 {
		return name
	}

	suffix := "-" + id.IdempotencyKey()[:10]
	head := name
	if limit := validation.DNS1123LabelMaxLength - len(suffix); len(head) > limit {
		head = head[:limit]
	}
	return strings.TrimRight(head, "-") + suffix
}

func sanitize(s string) string {
	s = invalidNameChars.ReplaceAllString(lower.String(s), "-")
	return strings.Trim(s, "-")
}
