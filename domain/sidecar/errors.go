package sidecar

import (
	"fmt"

	svcerrors "github.com/vaultauth/core/infrastructure/errors"
)

// NewNetworkTimeout classifies a transport-level failure (connection
// refused, DNS failure, deadline exceeded) reaching the sidecar.
func NewNetworkTimeout(operation string, err error) error {
	return svcerrors.Wrap(svcerrors.ErrCodeTimeout, fmt.Sprintf("sidecar %s: network timeout", operation), 504, err)
}

// NewSidecarRejected classifies a 4xx response: the sidecar understood the
// request and declined it (e.g. insufficient balance, invalid address).
func NewSidecarRejected(operation string, err error) error {
	return svcerrors.SidecarError(operation, err)
}

// NewSidecarInternal classifies a 5xx response or a response this client
// could not parse: the sidecar itself failed.
func NewSidecarInternal(operation string, err error) error {
	return svcerrors.Wrap(svcerrors.ErrCodeSidecarError, fmt.Sprintf("sidecar %s: internal error", operation), 502, err)
}
