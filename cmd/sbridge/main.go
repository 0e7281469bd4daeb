package main

import (
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/cli"
)

func main() {
	cli.Execute()
}
