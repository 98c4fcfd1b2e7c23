package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestJoinRequiresURL(t *testing.T) {
	t.Setenv("LIVEDOC_URL", "")

	_, err := run(t, "join", "doc-1", "--user", "alice")
	assert.ErrorContains(t, err, "relay url is required")
}

func TestJournalTailNeedsPath(t *testing.T) {
	t.Setenv("LIVEDOC_JOURNAL", "")

	_, err := run(t, "journal", "tail")
	assert.ErrorContains(t, err, "journal_path")
}

func TestRelayRejectsUnknownStore(t *testing.T) {
	_, err := run(t, "relay", "--store", "s3")
	assert.ErrorContains(t, err, "unknown relay store")
}
