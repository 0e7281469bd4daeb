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

package workload

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const nodeListPageSize int64 = 500

// NodeCapacity is the allocatable amount of the mapped resources on a node.
type NodeCapacity struct {
	Name        string            `json:"name" yaml:"name"`
	Schedulable bool              `json:"schedulable" yaml:"schedulable"`
	Allocatable map[string]string `json:"allocatable" yaml:"allocatable"`
}

// CapacityReport summarizes where the mapped resources are available.
type CapacityReport struct {
	Nodes  []NodeCapacity   `json:"nodes" yaml:"nodes"`
	Totals map[string]int64 `json:"totals" yaml:"totals"`
}

// Capacity lists nodes advertising any of resources, paging through large
// clusters. Cordoned nodes are listed but excluded from Totals.
func Capacity(ctx context.Context, kube kubernetes.Interface, resources []string) (*CapacityReport, error) {
	report := &CapacityReport{Totals: map[string]int64{}}
	for _, r := range resources {
		report.Totals[r] = 0
	}

	continueToken := ""
	for {
		list, err := kube.CoreV1().Nodes().List(ctx, metav1.ListOptions{
			Limit:    nodeListPageSize,
			Continue: continueToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list nodes: %w", err)
		}

		for i := range list.Items {
			if nc, ok := nodeCapacity(&list.Items[i], resources); ok {
				report.Nodes = append(report.Nodes, nc)
				if nc.Schedulable {
					for _, r := range resources {
						q := list.Items[i].Status.Allocatable[corev1.ResourceName(r)]
						report.Totals[r] += q.Value()
					}
				}
			}
		}

		continueToken = list.Continue
		if continueToken == "" {
			break
		}
		if len(list.Items) == 0 {
			slog.Warn("received empty page with continue token, stopping pagination")
			break
		}
	}

	sort.Slice(report.Nodes, func(i, j int) bool { return report.Nodes[i].Name < report.Nodes[j].Name })
	return report, nil
}

func nodeCapacity(n *corev1.Node, resources []string) (NodeCapacity, bool) {
	nc := NodeCapacity{
		Name:        n.Name,
		Schedulable: !n.Spec.Unschedulable,
		Allocatable: map[string]string{},
	}
	for _, r := range resources {
		q, ok := n.Status.Allocatable[corev1.ResourceName(r)]
		if !ok || q.IsZero() {
			continue
		}
		nc.Allocatable[r] = q.String()
	}
	return nc, len(nc.Allocatable) > 0
}
