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

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/api"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
)

func waitCmd() *cli.Command {
	return &cli.Command{
		Name:      "wait",
		Usage:     "Wait for a delegated job to finish",
		ArgsUsage: "<cluster>/<id>",
		Description: `Poll the bridge until the job is terminal and exit with its status:
0 when it succeeded, 1 when it failed and 3 when it was lost.

This is what the stub batch script of a delegated job runs. Transient
errors talking to the bridge are logged and retried.

Examples:
  sbridge wait hpc-east/4242
  sbridge wait --interval 5s --timeout 2h hpc-east/4242`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Value: defaults.WaitPollInterval,
				Usage: "Polling interval",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long (0 waits forever)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := identityArg(cmd)
			if err != nil {
				return err
			}
			interval := cmd.Duration("interval")
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			if t := cmd.Duration("timeout"); t > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t)
				defer cancel()
			}

			c := newClient(cmd)
			var last *api.JobStatus
			err = wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
				st, err := c.Status(ctx, id)
				switch {
				case err == nil:
					last = st
					slog.Debug("job status", "identity", id, "phase", st.Phase)
					return st.Terminal, nil
				case apperrors.IsCode(err, apperrors.ErrCodeNotFound):
					return false, err
				case retryable(err):
					slog.Warn("failed to read job status, retrying", "identity", id, "error", err)
					return false, nil
				default:
					return false, err
				}
			})

			switch {
			case err == nil:
			case apperrors.IsCode(err, apperrors.ErrCodeNotFound):
				return cli.Exit(fmt.Sprintf("job %s is unknown to the bridge", id), exitLost)
			case errors.Is(err, context.DeadlineExceeded):
				return cli.Exit(fmt.Sprintf("timed out waiting for job %s", id), 1)
			default:
				return fmt.Errorf("failed waiting for job %s: %w", id, err)
			}

			return jobExit(last)
		},
	}
}

// jobExit maps a terminal status to the process exit status.
func jobExit(st *api.JobStatus) error {
	code := 1
	if st.ExitCode != nil {
		code = *st.ExitCode
	}
	if code == 0 {
		slog.Info("job succeeded", "identity", st.Identity)
		return nil
	}
	msg := fmt.Sprintf("job %s %s", st.Identity, st.Phase)
	if st.Reason != "" {
		msg += ": " + st.Reason
	}
	return cli.Exit(msg, code)
}

// retryable reports whether a bridge call may succeed if repeated.
func retryable(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeUnavailable, apperrors.ErrCodeTimeout,
		apperrors.ErrCodeRateLimitExceeded, apperrors.ErrCodeTransient:
		return true
	}
	return false
}
