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
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/api"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
)

// Flags are built per command tree so repeated runs do not share parsed state.

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output file path (default: stdout)",
	}
}

func formatFlag(def serializer.Format) cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"t"},
		Value:   string(def),
		Usage:   fmt.Sprintf("Output format (supported values: %v)", serializer.SupportedFormats()),
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Required: true,
		Usage: `Path/URI to the bridge configuration.
	Supports: file paths, HTTP/HTTPS URLs, or ConfigMap URIs (cm://namespace/name).`,
		Sources: cli.EnvVars("SBRIDGE_CONFIG"),
	}
}

func kubeconfigFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "kubeconfig",
		Aliases: []string{"k"},
		Usage:   "Path to kubeconfig file (overrides the configuration and KUBECONFIG)",
	}
}

func fileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Value:   "-",
		Usage:   "Submission descriptor (JSON or YAML file, URL, or - for JSON on stdin)",
	}
}

// parseOutputFormat returns the validated --format value.
func parseOutputFormat(cmd *cli.Command) (serializer.Format, error) {
	f := serializer.Format(cmd.String("format"))
	if f.IsUnknown() {
		return "", fmt.Errorf("unknown output format: %q", f)
	}
	return f, nil
}

// writeOutput serializes v to --output in --format.
func writeOutput(ctx context.Context, cmd *cli.Command, v any) error {
	f, err := parseOutputFormat(cmd)
	if err != nil {
		return err
	}
	ser := serializer.NewFileWriterOrStdout(f, cmd.String("output"))
	defer func() {
		if err := ser.Close(); err != nil {
			slog.Warn("failed to close serializer", "error", err)
		}
	}()
	return ser.Serialize(ctx, v)
}

// identityArg parses the single cluster/id argument.
func identityArg(cmd *cli.Command) (job.Identity, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one job identity (cluster/id), got %d arguments", cmd.Args().Len())
	}
	return job.ParseIdentity(cmd.Args().First())
}

// newClient returns a bridge client for --server.
func newClient(cmd *cli.Command, options ...serializer.ClientOption) *api.Client {
	opts := append([]serializer.ClientOption{
		serializer.WithTimeout(defaults.HTTPClientTimeout),
		serializer.WithUserAgent(name + "/" + version),
	}, options...)
	return api.NewClient(cmd.String("server"), opts...)
}

// readDescriptor loads a submission descriptor from path, or JSON from in
// when path is "-".
func readDescriptor(path string, in io.Reader) (*job.SubmissionDescriptor, error) {
	if path == "" || path == "-" {
		r, err := serializer.NewReader(serializer.FormatJSON, in)
		if err != nil {
			return nil, err
		}
		var d job.SubmissionDescriptor
		if err := r.Deserialize(&d); err != nil {
			return nil, fmt.Errorf("failed to read descriptor from stdin: %w", err)
		}
		return &d, nil
	}
	return serializer.FromFile[job.SubmissionDescriptor](path)
}

// stdin is replaced in tests.
var stdin io.Reader = os.Stdin
