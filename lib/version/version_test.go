// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"strings"
	"testing"
)

func setVersion(t *testing.T, commit, dirty, buildTime string) {
	t.Helper()
	previousCommit, previousDirty, previousTime := GitCommit, GitDirty, BuildTime
	GitCommit, GitDirty, BuildTime = commit, dirty, buildTime
	t.Cleanup(func() {
		GitCommit, GitDirty, BuildTime = previousCommit, previousDirty, previousTime
	})
}

func TestInfo(t *testing.T) {
	tests := []struct {
		name  string
		dirty string
		want  string
	}{
		{name: "clean", dirty: "false", want: Version + " (abc1234, 2026-10-01T00:00:00Z)"},
		{name: "dirty", dirty: "true", want: Version + " (abc1234-dirty, 2026-10-01T00:00:00Z)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setVersion(t, "abc1234", tt.dirty, "2026-10-01T00:00:00Z")
			if got := Info(); got != tt.want {
				t.Errorf("Info() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrint(t *testing.T) {
	setVersion(t, "abc1234", "false", "unknown")
	var output bytes.Buffer
	Print(&output, "morum")
	if !strings.HasPrefix(output.String(), "morum "+Version+" (abc1234") {
		t.Errorf("Print output = %q", output.String())
	}
	if !strings.Contains(output.String(), "Go: go") {
		t.Errorf("Print output lacks the Go version: %q", output.String())
	}
}
