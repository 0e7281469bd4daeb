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

// Package config loads the bridge configuration.
//
// Configuration is read once from a YAML or JSON document (a file path, an
// http(s) URL or a cm://namespace/name ConfigMap URI), overlaid with
// environment variables, defaulted and validated, then handed to each
// component at construction. Nothing reads configuration globally after that.
//
// Retry settings (dispatch.maxAttempts, dispatch.backoff) and the GRES
// resource mapping (translator.resources) have no defaults: Validate fails
// when they are absent.
//
// Environment overrides:
//
//	SBRIDGE_CLUSTER            default scheduler cluster name
//	SBRIDGE_NAMESPACE          translator default namespace
//	SBRIDGE_DEFAULT_IMAGE      translator default image
//	SBRIDGE_STATUS_MODE        watch or poll
//	SBRIDGE_STORE_PATH         bolt database path (switches the store to bolt)
//	SBRIDGE_ACCOUNTING_WEBHOOK accounting webhook URL
//	SBRIDGE_KUBECONFIG         kubeconfig path
//	PORT                       HTTP listen port
//	LOG_LEVEL                  log level
package config
