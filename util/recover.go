// Copyright (c) 2023, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package util

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover logs a recovered panic together with the stack trace.
// It must be called directly by a deferred statement.
func Recover(log *slog.Logger) {
	if r := recover(); r != nil {
		log.Error("panic recovered",
			"panic", r,
			"type", fmt.Sprintf("%T", r),
			"stack", string(debug.Stack()))
	}
}
