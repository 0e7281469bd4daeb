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
	"slices"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
)

// RBACOptions names the bridge identity and where it manages workloads.
type RBACOptions struct {
	// Name is used for the ServiceAccount and every role and binding.
	Name string
	// Namespace is where the bridge itself runs.
	Namespace string
	// WorkloadNamespaces receive a Role allowing workload management.
	WorkloadNamespaces []string
	// Distributed adds JobSet access.
	Distributed bool
}

// RBAC is the access the bridge's ServiceAccount needs.
type RBAC struct {
	ServiceAccount     *corev1.ServiceAccount
	Roles              []*rbacv1.Role
	RoleBindings       []*rbacv1.RoleBinding
	ClusterRole        *rbacv1.ClusterRole
	ClusterRoleBinding *rbacv1.ClusterRoleBinding
}

// workloadRules are the rules CheckPermissions verifies.
func workloadRules(distributed bool) []rbacv1.PolicyRule {
	rules := []rbacv1.PolicyRule{{
		APIGroups: []string{"batch"},
		Resources: []string{"jobs"},
		Verbs:     slices.Clone(workloadVerbs),
	}}
	if distributed {
		rules = append(rules, rbacv1.PolicyRule{
			APIGroups: []string{JobSetGVR.Group},
			Resources: []string{JobSetGVR.Resource},
			Verbs:     slices.Clone(workloadVerbs),
		})
	}
	return rules
}

// BuildRBAC renders the ServiceAccount, a Role and RoleBinding per workload
// namespace, a Role for reading configuration ConfigMaps in the bridge
// namespace, and a ClusterRole for node capacity reads.
func BuildRBAC(opts RBACOptions) (*RBAC, error) {
	if opts.Name == "" || opts.Namespace == "" {
		return nil, fmt.Errorf("rbac name and namespace are required")
	}

	subject := rbacv1.Subject{
		Kind:      rbacv1.ServiceAccountKind,
		Name:      opts.Name,
		Namespace: opts.Namespace,
	}
	r := &RBAC{
		ServiceAccount: &corev1.ServiceAccount{
			TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ServiceAccount"},
			ObjectMeta: rbacMeta(opts.Name, opts.Namespace),
		},
		ClusterRole: &rbacv1.ClusterRole{
			TypeMeta:   metav1.TypeMeta{APIVersion: rbacv1.SchemeGroupVersion.String(), Kind: "ClusterRole"},
			ObjectMeta: rbacMeta(opts.Name, ""),
			Rules: []rbacv1.PolicyRule{{
				APIGroups: []string{""},
				Resources: []string{"nodes"},
				Verbs:     []string{"get", "list"},
			}},
		},
		ClusterRoleBinding: &rbacv1.ClusterRoleBinding{
			TypeMeta:   metav1.TypeMeta{APIVersion: rbacv1.SchemeGroupVersion.String(), Kind: "ClusterRoleBinding"},
			ObjectMeta: rbacMeta(opts.Name, ""),
			Subjects:   []rbacv1.Subject{subject},
			RoleRef:    rbacv1.RoleRef{APIGroup: rbacv1.GroupName, Kind: "ClusterRole", Name: opts.Name},
		},
	}

	addRole := func(namespace string, rules []rbacv1.PolicyRule) {
		r.Roles = append(r.Roles, &rbacv1.Role{
			TypeMeta:   metav1.TypeMeta{APIVersion: rbacv1.SchemeGroupVersion.String(), Kind: "Role"},
			ObjectMeta: rbacMeta(opts.Name, namespace),
			Rules:      rules,
		})
		r.RoleBindings = append(r.RoleBindings, &rbacv1.RoleBinding{
			TypeMeta:   metav1.TypeMeta{APIVersion: rbacv1.SchemeGroupVersion.String(), Kind: "RoleBinding"},
			ObjectMeta: rbacMeta(opts.Name, namespace),
			Subjects:   []rbacv1.Subject{subject},
			RoleRef:    rbacv1.RoleRef{APIGroup: rbacv1.GroupName, Kind: "Role", Name: opts.Name},
		})
	}

	configRule := rbacv1.PolicyRule{
		APIGroups: []string{""},
		Resources: []string{"configmaps"},
		Verbs:     []string{"get"},
	}

	namespaces := slices.Clone(opts.WorkloadNamespaces)
	slices.Sort(namespaces)
	namespaces = slices.Compact(namespaces)

	if !slices.Contains(namespaces, opts.Namespace) {
		addRole(opts.Namespace, []rbacv1.PolicyRule{configRule})
	}
	for _, ns := range namespaces {
		rules := workloadRules(opts.Distributed)
		if ns == opts.Namespace {
			rules = append(rules, configRule)
		}
		addRole(ns, rules)
	}
	return r, nil
}

func rbacMeta(name, namespace string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      name,
		Namespace: namespace,
		Labels:    map[string]string{"app.kubernetes.io/managed-by": "sbridge"},
	}
}

// Objects returns every object in apply order.
func (r *RBAC) Objects() []runtime.Object {
	out := []runtime.Object{r.ServiceAccount, r.ClusterRole, r.ClusterRoleBinding}
	for i := range r.Roles {
		out = append(out, r.Roles[i], r.RoleBindings[i])
	}
	return out
}

// EnsureRBAC creates the objects that do not exist yet. Existing objects are
// left as they are.
func EnsureRBAC(ctx context.Context, kube kubernetes.Interface, r *RBAC) error {
	create := func(kind, name string, fn func(context.Context) error) error {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		if err := ignoreAlreadyExists(fn(ctx)); err != nil {
			return fmt.Errorf("failed to create %s %s: %w", kind, name, err)
		}
		return nil
	}

	sa := r.ServiceAccount
	if err := create("ServiceAccount", sa.Name, func(ctx context.Context) error {
		_, err := kube.CoreV1().ServiceAccounts(sa.Namespace).Create(ctx, sa, metav1.CreateOptions{})
		return err
	}); err != nil {
		return err
	}
	if err := create("ClusterRole", r.ClusterRole.Name, func(ctx context.Context) error {
		_, err := kube.RbacV1().ClusterRoles().Create(ctx, r.ClusterRole, metav1.CreateOptions{})
		return err
	}); err != nil {
		return err
	}
	if err := create("ClusterRoleBinding", r.ClusterRoleBinding.Name, func(ctx context.Context) error {
		_, err := kube.RbacV1().ClusterRoleBindings().Create(ctx, r.ClusterRoleBinding, metav1.CreateOptions{})
		return err
	}); err != nil {
		return err
	}
	for i, role := range r.Roles {
		binding := r.RoleBindings[i]
		if err := create("Role", role.Namespace+"/"+role.Name, func(ctx context.Context) error {
			_, err := kube.RbacV1().Roles(role.Namespace).Create(ctx, role, metav1.CreateOptions{})
			return err
		}); err != nil {
			return err
		}
		if err := create("RoleBinding", binding.Namespace+"/"+binding.Name, func(ctx context.Context) error {
			_, err := kube.RbacV1().RoleBindings(binding.Namespace).Create(ctx, binding, metav1.CreateOptions{})
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func ignoreAlreadyExists(err error) error {
	if errors.IsAlreadyExists(err) {
		return nil
	}
	return err
}
