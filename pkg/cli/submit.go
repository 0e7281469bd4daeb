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
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/api"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
)

func submitCmd() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Run the submission hook for a job descriptor",
		Description: `Send a submission descriptor to the bridge and print the hook answer.

This is the command the scheduler's job_submit plugin runs. The answer is
always printed. The exit status is 0 when the job is accepted (delegated or
left to the scheduler) and 2 when it must be rejected.

Examples:
  sbridge submit --file job.json
  slurm-desc-dump | sbridge submit --cluster hpc-east --job-id 4242`,
		Flags: []cli.Flag{
			fileFlag(),
			&cli.StringFlag{
				Name:  "cluster",
				Usage: "Override the descriptor's cluster",
			},
			&cli.StringFlag{
				Name:  "job-id",
				Usage: "Override the descriptor's job id",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: defaults.HookClientTimeout,
				Usage: "Time to wait for the hook answer",
			},
			outputFlag(),
			formatFlag(serializer.FormatJSON),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := readDescriptor(cmd.String("file"), stdin)
			if err != nil {
				return err
			}
			if v := cmd.String("cluster"); v != "" {
				d.Cluster = v
			}
			if v := cmd.String("job-id"); v != "" {
				d.JobID = v
			}
			if d.JobID == "" && d.SubmitKey == "" && d.SubmitTime.IsZero() {
				// retried requests must name the same submission
				d.SubmitTime = time.Now().UTC()
			}

			c := newClient(cmd, serializer.WithTimeout(cmd.Duration("timeout")))
			resp, err := c.Submit(ctx, *d)
			if err != nil {
				return fmt.Errorf("submission hook failed: %w", err)
			}

			if err := writeOutput(ctx, cmd, resp); err != nil {
				return err
			}
			if resp.Action == api.ActionReject {
				return cli.Exit(fmt.Sprintf("rejected: %s", resp.Reason), exitRejected)
			}
			return nil
		},
	}
}
