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

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Interface is an alias for kubernetes.Interface so tests can pass a fake clientset.
type Interface = kubernetes.Interface

// Options tune the REST client.
type Options struct {
	// Kubeconfig is an explicit kubeconfig path. Empty means discovery.
	Kubeconfig string
	// QPS and Burst bound the client-side request rate. Zero keeps client-go defaults.
	QPS   float32
	Burst int
	// UserAgent overrides the default client-go user agent.
	UserAgent string
}

// Clients bundles the typed and dynamic clients built from one rest.Config.
type Clients struct {
	Kube    Interface
	Dynamic dynamic.Interface
	Config  *rest.Config
}

var (
	clientOnce    sync.Once
	cachedClients *Clients
	clientErr     error
)

// Get returns process-wide clients built with auto-discovery on first call.
func Get() (*Clients, error) {
	clientOnce.Do(func() {
		cachedClients, clientErr = Build(Options{})
	})
	return cachedClients, clientErr
}

// Build creates clients bypassing the process-wide cache.
//
// Kubeconfig discovery order when Options.Kubeconfig is empty:
//  1. KUBECONFIG environment variable
//  2. ~/.kube/config (if it exists)
//  3. In-cluster service account
func Build(opts Options) (*Clients, error) {
	config, err := RestConfig(opts.Kubeconfig)
	if err != nil {
		return nil, err
	}
	if opts.QPS > 0 {
		config.QPS = opts.QPS
	}
	if opts.Burst > 0 {
		config.Burst = opts.Burst
	}
	if opts.UserAgent != "" {
		config.UserAgent = opts.UserAgent
	}

	kube, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	return &Clients{Kube: kube, Dynamic: dyn, Config: config}, nil
}

// RestConfig resolves the rest.Config for kubeconfig, falling back to discovery.
func RestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")

		if kubeconfig == "" {
			kubeconfig = filepath.Join(homedir.HomeDir(), ".kube", "config")
			if _, err := os.Stat(kubeconfig); os.IsNotExist(err) {
				kubeconfig = ""
			}
		}
	}

	// Avoids the "Neither --kubeconfig nor --master was specified" warning.
	if kubeconfig == "" {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
		return config, nil
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build kube config from %s: %w", kubeconfig, err)
	}
	return config, nil
}
