package server

import (
	"github.com/oxen-ai/oxen/internal/repo"
	"github.com/oxen-ai/oxen/internal/staging"
)

// FileStatus represents the status of a single path in the working tree.
type FileStatus struct {
	Path       string `json:"path"`
	StatusCode string `json:"statusCode"`
}

// WorkingTreeStatus groups paths by their working tree state, the same
// three buckets `oxen status` prints (§6.1).
type WorkingTreeStatus struct {
	Staged    []FileStatus `json:"staged"`
	Modified  []FileStatus `json:"modified"`
	Untracked []FileStatus `json:"untracked"`
}

// getWorkingTreeStatus reports r's staged entries and unstaged working
// changes, the websocket-push analogue of `oxen status`. Returns nil if the
// scan itself fails (e.g. the repo was removed out from under the watcher).
func getWorkingTreeStatus(r *repo.Repository) *WorkingTreeStatus {
	staged, err := r.Status()
	if err != nil {
		return nil
	}
	changes, err := r.Scan("")
	if err != nil {
		return nil
	}

	out := &WorkingTreeStatus{
		Staged:    []FileStatus{},
		Modified:  []FileStatus{},
		Untracked: []FileStatus{},
	}

	stagedPaths := make(map[string]bool, len(staged))
	for _, e := range staged {
		stagedPaths[e.Path] = true
		code := "M"
		if e.Operation == staging.OpAdd {
			code = "A"
		} else if e.Operation == staging.OpRemove {
			code = "D"
		}
		out.Staged = append(out.Staged, FileStatus{Path: e.Path, StatusCode: code})
	}

	for _, c := range changes {
		if stagedPaths[c.Path] {
			continue
		}
		if c.Tracked {
			out.Modified = append(out.Modified, FileStatus{Path: c.Path, StatusCode: "M"})
		} else {
			out.Untracked = append(out.Untracked, FileStatus{Path: c.Path, StatusCode: "?"})
		}
	}

	return out
}
