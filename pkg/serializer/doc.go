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

// Package serializer reads and writes the bridge's structured data.
//
// Output formats:
//   - JSON: machine-readable, indented
//   - YAML: human-readable, used for configuration and rendered manifests
//   - Table: flattened FIELD/VALUE view for terminals
//
// Writing:
//
//	w := serializer.NewStdoutWriter(serializer.FormatYAML)
//	defer w.Close()
//	if err := w.Serialize(ctx, spec); err != nil {
//	    return err
//	}
//
// Reading configuration from a file, an HTTP(S) URL or a ConfigMap
// (cm://namespace/name):
//
//	cfg, err := serializer.FromFile[config.Config]("/etc/sbridge/config.yaml")
//
// HTTP helpers:
//
//	serializer.RespondJSON(w, http.StatusOK, record)
//
//	c := serializer.NewClient()
//	err := c.PostJSON(ctx, url, body, &out)
package serializer
