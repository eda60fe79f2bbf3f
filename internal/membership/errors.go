// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package membership

import (
	"errors"

	"github.com/samber/oops"
)

// ErrInvalidArgument is returned when required input is missing.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidArgument(field string) error {
	return oops.Code("MEMBERSHIP_INVALID_ARGUMENT").
		With("field", field).
		Wrapf(ErrInvalidArgument, "%s cannot be empty", field)
}
