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
	"strings"

	authv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// PermissionCheck represents a single permission check result.
type PermissionCheck struct {
	Group     string `json:"group,omitempty"`
	Resource  string `json:"resource"`
	Verb      string `json:"verb"`
	Namespace string `json:"namespace"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
}

var workloadVerbs = []string{"create", "get", "list", "watch", "delete"}

// CheckPermissions verifies the bridge identity can manage workloads in every
// namespace. JobSet permissions are only checked when distributed is set.
// It returns all check results and an error listing the missing ones.
func CheckPermissions(ctx context.Context, kube kubernetes.Interface, namespaces []string, distributed bool) ([]PermissionCheck, error) {
	var checks []PermissionCheck
	var missing []string
	for _, ns := range namespaces {
		for _, rule := range workloadRules(distributed) {
			group, resource := rule.APIGroups[0], rule.Resources[0]
			for _, verb := range rule.Verbs {
				allowed, reason, err := checkPermission(ctx, kube, group, resource, verb, ns)
				if err != nil {
					return checks, fmt.Errorf("failed to check permission for %s %s: %w", verb, resource, err)
				}
				checks = append(checks, PermissionCheck{
					Group:     group,
					Resource:  resource,
					Verb:      verb,
					Namespace: ns,
					Allowed:   allowed,
					Reason:    reason,
				})
				if !allowed {
					missing = append(missing, fmt.Sprintf("%s %s.%s (namespace %q)", verb, resource, group, ns))
				}
			}
		}
	}

	if len(missing) > 0 {
		return checks, fmt.Errorf("missing required permissions:\n  - %s", strings.Join(missing, "\n  - "))
	}
	return checks, nil
}

// checkPermission checks if the current identity can perform the specified action.
func checkPermission(ctx context.Context, kube kubernetes.Interface, group, resource, verb, namespace string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	review := &authv1.SelfSubjectAccessReview{
		Spec: authv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authv1.ResourceAttributes{
				Group:     group,
				Verb:      verb,
				Resource:  resource,
				Namespace: namespace,
			},
		},
	}

	result, err := kube.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
	if err != nil {
		return false, "", err
	}
	return result.Status.Allowed, result.Status.Reason, nil
}
