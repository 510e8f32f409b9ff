package server

import (
	"io"
	"log/slog"
	"testing"

	"github.com/oxen-ai/oxen/internal/repo"
)

// newTestSession opens a throwaway repository under t.TempDir and wraps it
// in a RepoSession, the shared fixture every handler/middleware test in this
// package starts from.
func newTestSession(t *testing.T) *RepoSession {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return NewRepoSession("test", r, testLogger())
}

// testLogger discards output so test runs stay quiet.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
