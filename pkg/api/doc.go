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

// Package api defines the bridge's HTTP surface: paths, wire types and a
// client used by the CLI and the polling stub.
//
// # Endpoints
//
// Application endpoints (with rate limiting):
//   - POST /v1/submit                       - Evaluate a scheduler submission (hook)
//   - GET  /v1/jobs/{cluster}/{id}          - Status of a delegated job
//   - POST /v1/jobs/{cluster}/{id}/cancel   - Cancel a delegated job
//   - GET  /v1/records                      - List dispatch records
//
// System endpoints (no rate limiting):
//   - GET /health  - Health check (liveness probe)
//   - GET /ready   - Readiness check
//   - GET /metrics - Prometheus metrics
//
// # Hook contract
//
// The scheduler plugin posts a SubmissionDescriptor and always receives a
// SubmitResponse with status 200. Action tells the plugin what to do:
// "accept" (run the job, with Script replacing the batch script when set) or
// "reject" (refuse the submission with Reason). Malformed requests get a 400
// error response.
//
// Example:
//
//	curl -X POST http://localhost:8080/v1/submit \
//	  -H "Content-Type: application/json" \
//	  -d '{"cluster":"hpc-east","jobId":"4242","name":"ai-training-job","gres":"gpu:2","image":"nvcr.io/nvidia/pytorch:24.01-py3"}'
package api
