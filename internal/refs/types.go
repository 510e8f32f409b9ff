// Package refs manages branch/remote-tracking refs and the commit graph
// described in §4.5: ref creation and CAS updates, first-parent log
// pagination, and ancestor BFS.
package refs

import (
	"time"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// ActorId identifies the author of a commit or a remote-workspace session
// (§3.1), taken from local user configuration.
type ActorId struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CommitNode is the root of one version (§3.2). Hash is derived from
// Message, Parents, RootDirHash, Author, and Timestamp, so any content change
// yields a new hash, while two clients committing identical content with the
// same parent, message, author, and timestamp produce the same CommitHash.
type CommitNode struct {
	Hash        oxhash.ContentHash   `json:"hash"`
	RootDirHash oxhash.ContentHash   `json:"rootDirHash"`
	Parents     []oxhash.ContentHash `json:"parents"`
	Author      ActorId              `json:"author"`
	Timestamp   time.Time            `json:"timestamp"`
	Message     string               `json:"message"`
}

// IsMerge reports whether c has two parents.
func (c *CommitNode) IsMerge() bool { return len(c.Parents) == 2 }
