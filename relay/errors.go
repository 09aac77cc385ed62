// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package relay

import "errors"

var (
	ErrAlreadyStarted = errors.New("already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)
