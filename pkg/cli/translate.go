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
	"log/slog"

	"github.com/urfave/cli/v3"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/config"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/workload"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/translator"
)

func translateCmd() *cli.Command {
	return &cli.Command{
		Name:  "translate",
		Usage: "Show the workload a job descriptor would be delegated as",
		Description: `Translate a submission descriptor offline, without contacting the bridge
or the cluster. Prints the workload spec, or with --manifest the Job or
JobSet object the dispatcher would create.

Exits 2 when the bridge would reject the submission.

Examples:
  sbridge translate --config config.yaml --file job.json
  sbridge translate --config config.yaml --file job.yaml --manifest`,
		Flags: []cli.Flag{
			configFlag(),
			fileFlag(),
			&cli.BoolFlag{
				Name:  "manifest",
				Usage: "Render the Kubernetes object instead of the workload spec",
			},
			outputFlag(),
			formatFlag(serializer.FormatYAML),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			d, err := readDescriptor(cmd.String("file"), stdin)
			if err != nil {
				return err
			}

			t := translator.New(cfg.Translator)
			if !t.Recognizes(*d) {
				slog.Info("job requests no mapped resources and stays with the scheduler",
					"identity", d.Identity(), "gres", d.GRES)
				return nil
			}

			spec, err := t.Translate(*d)
			if err != nil {
				return cli.Exit(fmt.Sprintf("rejected: %v", err), exitRejected)
			}
			if !cmd.Bool("manifest") {
				return writeOutput(ctx, cmd, spec)
			}

			obj, err := renderManifest(spec, cfg.Workload)
			if err != nil {
				return err
			}
			return writeOutput(ctx, cmd, obj)
		},
	}
}

// renderManifest returns the object for spec as a plain map so both
// serializer formats use the Kubernetes field names.
func renderManifest(spec job.WorkloadSpec, opts workload.Options) (map[string]any, error) {
	if spec.Kind == job.KindDistributedJob {
		u, err := workload.BuildJobSet(spec, opts)
		if err != nil {
			return nil, err
		}
		return u.Object, nil
	}

	j, err := workload.BuildJob(spec, opts)
	if err != nil {
		return nil, err
	}
	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(j)
	if err != nil {
		return nil, fmt.Errorf("failed to convert job %s: %w", spec.Name, err)
	}
	return obj, nil
}
