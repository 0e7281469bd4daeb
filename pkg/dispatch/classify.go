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

package dispatch

import (
	"context"
	"errors"
	"net"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"

	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
)

// Classify returns the failure category of a control-plane error:
// ErrCodeTransient for errors worth retrying, ErrCodeRejected otherwise.
// A nil error has no category.
func Classify(err error) apperrors.ErrorCode {
	if err == nil {
		return ""
	}

	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeTransient, apperrors.ErrCodeTimeout, apperrors.ErrCodeUnavailable,
		apperrors.ErrCodeRateLimitExceeded:
		return apperrors.ErrCodeTransient
	case apperrors.ErrCodeRejected, apperrors.ErrCodeInvalidRequest, apperrors.ErrCodeUnsupportedResource,
		apperrors.ErrCodeMissingImage, apperrors.ErrCodeUnauthorized, apperrors.ErrCodeInternal:
		return apperrors.ErrCodeRejected
	}

	switch {
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err), apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err), apierrors.IsInternalError(err),
		apierrors.IsUnexpectedServerError(err):
		return apperrors.ErrCodeTransient
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err), apierrors.IsInvalid(err),
		apierrors.IsBadRequest(err), apierrors.IsNotFound(err), apierrors.IsMethodNotSupported(err),
		apierrors.IsNotAcceptable(err), apierrors.IsUnsupportedMediaType(err), apierrors.IsRequestEntityTooLargeError(err),
		apierrors.IsAlreadyExists(err), apierrors.IsConflict(err):
		return apperrors.ErrCodeRejected
	case errors.Is(err, context.DeadlineExceeded), utilnet.IsConnectionRefused(err),
		utilnet.IsConnectionReset(err), utilnet.IsProbableEOF(err):
		return apperrors.ErrCodeTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.ErrCodeTransient
	}

	// Unknown failures are retried; MaxAttempts bounds them.
	return apperrors.ErrCodeTransient
}

// classify wraps err with its failure category unless it already carries one.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	code := Classify(err)
	if apperrors.CodeOf(err) == code {
		return err
	}
	return apperrors.Wrap(code, message, err)
}
