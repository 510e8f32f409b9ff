// Package ozerr defines the error taxonomy shared across Oxen's subsystems.
//
// Each error is a small struct rather than a sentinel value because most of
// them carry the offending path, hash, or ref name — the one piece of
// context a caller (CLI or server handler) needs to report a useful
// single-line summary. Callers match with errors.As, not ==.
package ozerr

import "fmt"

// NotARepository is returned when an operation expects an Oxen repository
// but the hidden metadata directory is missing at or above the given path.
type NotARepository struct{ Path string }

func (e *NotARepository) Error() string {
	return fmt.Sprintf("not an oxen repository: %s", e.Path)
}

// RepoAlreadyExists is returned by init when a repository already exists.
type RepoAlreadyExists struct{ Path string }

func (e *RepoAlreadyExists) Error() string {
	return fmt.Sprintf("repository already exists: %s", e.Path)
}

// RepoLocked is returned when another process holds the refs-DB lock.
type RepoLocked struct{ Path string }

func (e *RepoLocked) Error() string {
	return fmt.Sprintf("repository is locked by another process: %s", e.Path)
}

// PathNotFound is returned when a referenced working-tree or tree path does not exist.
type PathNotFound struct{ Path string }

func (e *PathNotFound) Error() string { return fmt.Sprintf("path not found: %s", e.Path) }

// PathIgnored is returned when an explicitly-requested path matches .oxenignore.
type PathIgnored struct{ Path string }

func (e *PathIgnored) Error() string { return fmt.Sprintf("path is ignored: %s", e.Path) }

// PathOutsideRepo is returned when a path resolves outside the repository root.
type PathOutsideRepo struct{ Path string }

func (e *PathOutsideRepo) Error() string {
	return fmt.Sprintf("path is outside the repository: %s", e.Path)
}

// BranchNotFound is returned when a named branch has no ref.
type BranchNotFound struct{ Name string }

func (e *BranchNotFound) Error() string { return fmt.Sprintf("branch not found: %s", e.Name) }

// BranchExists is returned by create_branch when the name is already taken.
type BranchExists struct{ Name string }

func (e *BranchExists) Error() string { return fmt.Sprintf("branch already exists: %s", e.Name) }

// RefDiverged is returned when a ref CAS update's expected head no longer matches.
type RefDiverged struct {
	Ref      string
	Expected string
	Actual   string
}

func (e *RefDiverged) Error() string {
	return fmt.Sprintf("ref %s diverged: expected %s, got %s", e.Ref, e.Expected, e.Actual)
}

// CommitNotFound is returned when a commit hash cannot be resolved.
type CommitNotFound struct{ Hash string }

func (e *CommitNotFound) Error() string { return fmt.Sprintf("commit not found: %s", e.Hash) }

// NotAncestor is returned when an ancestry check fails where one was required
// (e.g. a non-force push whose local head has diverged from the remote).
type NotAncestor struct{ A, B string }

func (e *NotAncestor) Error() string {
	return fmt.Sprintf("%s is not an ancestor of %s", e.A, e.B)
}

// MergeConflict carries the set of conflicting paths from a failed merge.
type MergeConflict struct{ Paths []string }

func (e *MergeConflict) Error() string {
	return fmt.Sprintf("merge conflict in %d path(s): %v", len(e.Paths), e.Paths)
}

// SchemaMismatch is returned when a tabular operation expects a schema that
// doesn't match what was found.
type SchemaMismatch struct {
	Path             string
	Expected, Actual string
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// ParseFailure is returned when a tabular parser cannot decode a row.
type ParseFailure struct {
	Path string
	Line int
	Col  int
	Err  error
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse failure in %s at %d:%d: %v", e.Path, e.Line, e.Col, e.Err)
}

func (e *ParseFailure) Unwrap() error { return e.Err }

// BlobMissing is returned when a ContentHash cannot be resolved in the
// object store and no remote is configured to retry from.
type BlobMissing struct{ Hash string }

func (e *BlobMissing) Error() string { return fmt.Sprintf("blob missing: %s", e.Hash) }

// BlobCorrupted is returned when a re-hash of stored bytes doesn't match
// the hash under which they were stored.
type BlobCorrupted struct{ Hash string }

func (e *BlobCorrupted) Error() string { return fmt.Sprintf("blob corrupted: %s", e.Hash) }

// NetworkError wraps a transfer-protocol failure with whether it is safe to retry.
type NetworkError struct {
	Retryable bool
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (retryable=%v): %v", e.Retryable, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthFailed is returned when a remote rejects the bearer token.
type AuthFailed struct{ Host string }

func (e *AuthFailed) Error() string { return fmt.Sprintf("authentication failed for %s", e.Host) }

// RemoteRejected carries a server-supplied reason for rejecting a request,
// e.g. a non-fast-forward push.
type RemoteRejected struct{ Reason string }

func (e *RemoteRejected) Error() string { return fmt.Sprintf("remote rejected: %s", e.Reason) }

// WorkingTreeDirty is returned by checkout/merge when local modifications
// would be clobbered without --force.
type WorkingTreeDirty struct{ Paths []string }

func (e *WorkingTreeDirty) Error() string {
	return fmt.Sprintf("working tree has local modifications in %d path(s): %v", len(e.Paths), e.Paths)
}
