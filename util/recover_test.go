// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package util

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	func() {
		defer Recover(log)
		panic("boom")
	}()

	out := buf.String()
	if !strings.Contains(out, "panic recovered") || !strings.Contains(out, "boom") {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestRecoverNoPanic(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	func() {
		defer Recover(log)
	}()

	if buf.Len() != 0 {
		t.Errorf("expected no output, got: %s", buf.String())
	}
}
