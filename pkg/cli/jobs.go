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

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
)

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the status of a delegated job",
		ArgsUsage: "<cluster>/<id>",
		Flags:     []cli.Flag{outputFlag(), formatFlag(serializer.FormatYAML)},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := identityArg(cmd)
			if err != nil {
				return err
			}
			st, err := newClient(cmd).Status(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get status of %s: %w", id, err)
			}
			return writeOutput(ctx, cmd, st)
		},
	}
}

func cancelCmd() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a delegated job and delete its workload",
		ArgsUsage: "<cluster>/<id>",
		Description: `Cancel a delegated job. The stub script runs this from its signal trap
when the scheduler cancels the job. Cancelling a terminal job is a no-op.`,
		Flags: []cli.Flag{outputFlag(), formatFlag(serializer.FormatYAML)},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := identityArg(cmd)
			if err != nil {
				return err
			}
			st, err := newClient(cmd).Cancel(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to cancel %s: %w", id, err)
			}
			return writeOutput(ctx, cmd, st)
		},
	}
}

func recordsCmd() *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "List the bridge's dispatch records",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "phase",
				Usage: "Only list records in this phase (Pending, Dispatching, Running, Succeeded, Failed, Lost)",
			},
			outputFlag(),
			formatFlag(serializer.FormatYAML),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			phase := job.Phase(cmd.String("phase"))
			if phase != "" && !phase.IsValid() {
				return fmt.Errorf("invalid phase: %q", phase)
			}
			list, err := newClient(cmd).Records(ctx, phase)
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}
			return writeOutput(ctx, cmd, list)
		},
	}
}
