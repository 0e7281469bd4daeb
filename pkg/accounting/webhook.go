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

package accounting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
)

// deliveryNamespace scopes the name-based delivery ids.
var deliveryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://sbridge.nvidia.com/accounting"))

// Webhook posts outcomes as JSON to URL. The payload's delivery id is derived
// from the job identity and terminal phase, so a retried delivery carries the
// same id and receivers can deduplicate on it.
type Webhook struct {
	URL    string
	client *serializer.Client
}

// NewWebhook creates a Webhook. Extra options are applied to the HTTP client.
func NewWebhook(url string, options ...serializer.ClientOption) *Webhook {
	opts := append([]serializer.ClientOption{serializer.WithTimeout(defaults.WebhookTimeout)}, options...)
	return &Webhook{
		URL:    url,
		client: serializer.NewClient(opts...),
	}
}

func (w *Webhook) Report(ctx context.Context, o Outcome) error {
	delivery := DeliveryID(o)
	payload := struct {
		Delivery string `json:"delivery"`
		Outcome
	}{Delivery: delivery, Outcome: o}

	ctx, cancel := context.WithTimeout(ctx, defaults.WebhookTimeout)
	defer cancel()

	if err := w.client.PostJSON(ctx, w.URL, payload, nil); err != nil {
		return fmt.Errorf("failed to deliver outcome of %s: %w", o.Identity, err)
	}
	slog.Debug("outcome delivered", "identity", o.Identity.String(), "phase", o.Phase, "delivery", delivery)
	return nil
}

// DeliveryID returns the stable delivery id of an outcome.
func DeliveryID(o Outcome) string {
	return uuid.NewSHA1(deliveryNamespace, []byte(o.Identity.String()+"/"+string(o.Phase))).String()
}
