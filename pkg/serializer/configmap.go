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

package serializer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/client"
)

// ConfigMapURIScheme prefixes ConfigMap sources: cm://namespace/name.
const ConfigMapURIScheme = "cm://"

// configMapKeys are the data keys tried in order, each with its format.
var configMapKeys = []struct {
	key    string
	format Format
}{
	{"config.yaml", FormatYAML},
	{"config.yml", FormatYAML},
	{"config.json", FormatJSON},
}

func fromConfigMap[T any](ctx context.Context, namespace, name string) (*T, error) {
	clients, err := client.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes client: %w", err)
	}
	return FromConfigMap[T](ctx, clients.Kube, namespace, name)
}

// FromConfigMap reads a T from the config.yaml, config.yml or config.json key
// of a ConfigMap.
func FromConfigMap[T any](ctx context.Context, kube client.Interface, namespace, name string) (*T, error) {
	readCtx, cancel := context.WithTimeout(ctx, defaults.ControlPlaneCallTimeout)
	defer cancel()

	cm, err := kube.CoreV1().ConfigMaps(namespace).Get(readCtx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ConfigMap %s/%s: %w", namespace, name, err)
	}

	for _, k := range configMapKeys {
		content, ok := cm.Data[k.key]
		if !ok {
			continue
		}
		slog.Debug("reading from ConfigMap",
			"namespace", namespace,
			"name", name,
			"key", k.key,
			"size", len(content))

		out, err := FromBytes[T](k.format, []byte(content))
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize ConfigMap %s/%s key %s: %w", namespace, name, k.key, err)
		}
		return out, nil
	}

	return nil, fmt.Errorf("ConfigMap %s/%s has no config.yaml, config.yml or config.json key", namespace, name)
}

// parseConfigMapURI splits cm://namespace/name.
func parseConfigMapURI(uri string) (namespace, name string, err error) {
	if !strings.HasPrefix(uri, ConfigMapURIScheme) {
		return "", "", fmt.Errorf("invalid ConfigMap URI: must start with %s", ConfigMapURIScheme)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, ConfigMapURIScheme), "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid ConfigMap URI format: expected %snamespace/name, got %s", ConfigMapURIScheme, uri)
	}

	namespace = strings.TrimSpace(parts[0])
	name = strings.TrimSpace(parts[1])

	if namespace == "" {
		return "", "", fmt.Errorf("invalid ConfigMap URI: namespace cannot be empty")
	}
	if name == "" {
		return "", "", fmt.Errorf("invalid ConfigMap URI: name cannot be empty")
	}

	return namespace, name, nil
}
