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

// Package cli implements the sbridge command-line interface.
//
// # Commands
//
// serve - Run the bridge:
//
//	sbridge serve --config /etc/sbridge/config.yaml [--preflight]
//
// Runs the submission hook, dispatcher and reconciler. Notifies systemd when
// ready. --preflight checks workload RBAC before starting.
//
// submit - Evaluate a submission (for scheduler plugins):
//
//	sbridge submit --file job.json
//	cat job.json | sbridge submit
//
// Prints the hook response as JSON. Exits 2 when the bridge rejects the job.
//
// wait - Block until a delegated job finishes (run by the stub script):
//
//	sbridge wait --interval 15s hpc-east/4242
//
// Exits 0 when the job succeeded, 1 when it failed and 3 when it was lost.
//
// cancel - Cancel a delegated job:
//
//	sbridge cancel hpc-east/4242
//
// status, records - Inspect delegated jobs:
//
//	sbridge status hpc-east/4242
//	sbridge records --phase Running --format table
//
// translate - Show the workload a submission would produce, without a bridge:
//
//	sbridge translate --config config.yaml --file job.yaml [--manifest]
//
// capacity - Report allocatable mapped resources per node:
//
//	sbridge capacity --config config.yaml
//
// rbac - Render or create the bridge's ServiceAccount, Roles and bindings:
//
//	sbridge rbac --config config.yaml [--apply]
//
// # Global Flags
//
//	--server       Bridge URL (default http://localhost:8080, env SBRIDGE_SERVER)
//	--log-level    debug, info, warn or error (env LOG_LEVEL)
//
// # Exit Codes
//
//	0  Success, or delegated job succeeded
//	1  General error, or delegated job failed
//	2  Submission rejected
//	3  Delegated job lost
package cli
