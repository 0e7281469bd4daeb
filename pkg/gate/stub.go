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

package gate

import (
	"bytes"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// DefaultBinary is the stub's command when Stub.Binary is empty.
const DefaultBinary = "sbridge"

// Stub describes the polling script the scheduler runs for a delegated job.
// The script waits for the job's outcome and cancels the workload when the
// scheduler terminates it.
type Stub struct {
	// Binary is the sbridge executable on compute nodes.
	Binary string `json:"binary,omitempty" yaml:"binary,omitempty"`
	// Server is the bridge URL the stub talks to. Empty uses the CLI default.
	Server string `json:"server,omitempty" yaml:"server,omitempty"`
	// Interval is how often the stub polls.
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

var stubTemplate = template.Must(template.New("stub").Funcs(template.FuncMap{
	"quote": shellQuote,
}).Parse(`#!/bin/bash
# Delegated to Kubernetes as {{ .Object }}.
# Exit status: 0 succeeded, 1 failed, 3 lost.
trap '{{ quote .Binary }}{{ with .Server }} --server {{ quote . }}{{ end }} cancel {{ quote .Identity }}; exit 143' TERM INT
{{ quote .Binary }}{{ with .Server }} --server {{ quote . }}{{ end }} wait --interval {{ .Interval }} {{ quote .Identity }} &
wait "$!"
exit $?
`))

// Render returns the stub script for a job.
func (s Stub) Render(id job.Identity, ref job.ObjectRef) (string, error) {
	binary := s.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	interval := s.Interval
	if interval <= 0 {
		interval = defaults.WaitPollInterval
	}

	for _, v := range []string{binary, s.Server, id.String()} {
		if strings.ContainsAny(v, "'\n") {
			return "", apperrors.New(apperrors.ErrCodeInvalidRequest,
				"stub script values must not contain quotes or newlines: "+strconv.Quote(v))
		}
	}

	var buf bytes.Buffer
	err := stubTemplate.Execute(&buf, map[string]any{
		"Binary":   binary,
		"Server":   s.Server,
		"Interval": interval.String(),
		"Identity": id.String(),
		"Object":   ref.String(),
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "failed to render stub script", err)
	}
	return buf.String(), nil
}

// shellQuote double-quotes s for a POSIX shell unless it only holds safe
// characters. Values never contain single quotes, so the result also stays
// valid inside the single-quoted trap body.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("/-_.:=@%+,", r))
	}) < 0 {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`").Replace(s) + `"`
}
