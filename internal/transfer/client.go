package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/objstore"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/refs"
)

// ProgressFunc reports blob-transfer progress during push/pull/clone.
// phase is "fetch" or "push"; done/total count blobs, not bytes.
type ProgressFunc func(phase string, done, total int64)

// Client drives push/pull/clone against a remote Server over HTTP (§4.9).
type Client struct {
	BaseURL     string
	HTTP        *http.Client
	Refs        *refs.Store
	Tree        *merkle.Store
	Blobs       *objstore.Store
	Concurrency int          // blob fetch/push worker count; 0 means DefaultBlobConcurrency
	OnProgress  ProgressFunc // optional; called as blobs complete transfer
}

// NewClient builds a Client with a sane default HTTP timeout, matching the
// per-operation handshake timeout called out in §5 (default 30s).
func NewClient(baseURL string, refsStore *refs.Store, tree *merkle.Store, blobs *objstore.Store) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Refs:    refsStore,
		Tree:    tree,
		Blobs:   blobs,
	}
}

// PullResult summarizes what Pull (or Clone, which is Pull against an empty
// repo) transferred.
type PullResult struct {
	UpToDate       bool
	OldHead        oxhash.ContentHash
	NewHead        oxhash.ContentHash
	CommitsFetched int
	BlobsFetched   int
}

// Pull fetches every commit reachable from the remote's branch tip that the
// local repo doesn't have, verifies and stores their blobs and trees, then
// advances the local branch ref (§4.9). remote names the remote-tracking
// namespace to update alongside the local branch (e.g. "origin").
func (c *Client) Pull(ctx context.Context, remote, branch string) (*PullResult, error) {
	localHead, err := c.resolveLocalBranch(branch)
	if err != nil {
		return nil, err
	}

	hs, err := c.handshake(ctx, branch, localHead)
	if err != nil {
		return nil, err
	}
	if hs.ProtocolVersion != ProtocolVersion {
		return nil, &ozerr.RemoteRejected{Reason: fmt.Sprintf("protocol version mismatch: local %d, remote %d", ProtocolVersion, hs.ProtocolVersion)}
	}
	if hs.RemoteHead == localHead {
		return &PullResult{UpToDate: true, OldHead: localHead, NewHead: localHead}, nil
	}

	missing, err := c.missingCommits(ctx, localHead, hs.RemoteHead)
	if err != nil {
		return nil, err
	}

	commits, err := c.fetchCommits(ctx, missing)
	if err != nil {
		return nil, err
	}

	dirCache := map[oxhash.ContentHash]merkle.DirNode{}
	fileCache := map[oxhash.ContentHash]merkle.FileNode{}
	blobsFetched := 0

	for _, cr := range commits {
		td, err := c.treeDiff(ctx, cr.Hash, knownHashes(dirCache))
		if err != nil {
			return nil, err
		}
		for _, d := range td.Dirs {
			dirCache[d.Node.Hash] = d.Node
		}
		for _, f := range td.Files {
			fileCache[f.Node.Hash] = f.Node
		}

		needed := neededBlobs(c.Blobs, td.Files)
		if err := c.fetchBlobs(ctx, needed); err != nil {
			return nil, err
		}
		blobsFetched += len(needed)

		tree, err := assembleTree(cr.RootDirHash, dirCache, fileCache)
		if err != nil {
			return nil, fmt.Errorf("transfer: assembling tree for commit %s: %w", cr.Hash, err)
		}
		if err := c.Tree.Persist(cr.Hash.String(), tree); err != nil {
			return nil, err
		}
		if err := c.Refs.PutCommit(fromCommitRecord(cr)); err != nil {
			return nil, err
		}
	}

	if err := c.Refs.UpdateRef(branch, localHead, hs.RemoteHead); err != nil {
		return nil, err
	}
	if remote != "" {
		if err := c.Refs.UpdateRemoteRef(remote, branch, hs.RemoteHead); err != nil {
			return nil, err
		}
	}

	return &PullResult{
		OldHead:        localHead,
		NewHead:        hs.RemoteHead,
		CommitsFetched: len(commits),
		BlobsFetched:   blobsFetched,
	}, nil
}

// Clone is Pull against an empty local repository — localHead resolves to
// the zero hash, so every reachable commit transfers (§4.9 "clone is pull
// against an empty local repo").
func (c *Client) Clone(ctx context.Context, remote, branch string) (*PullResult, error) {
	return c.Pull(ctx, remote, branch)
}

// PushResult summarizes what Push sent.
type PushResult struct {
	UpToDate       bool
	OldHead        oxhash.ContentHash
	NewHead        oxhash.ContentHash
	CommitsPushed  int
	BlobsPushed    int
}

// Push sends every local commit reachable from branch that the remote
// doesn't have, then advances the remote's branch ref. A non-fast-forward
// update is rejected by the server's CAS unless force is set (§4.9 step 5).
func (c *Client) Push(ctx context.Context, branch string, force bool) (*PushResult, error) {
	localHead, err := c.resolveLocalBranch(branch)
	if err != nil {
		return nil, err
	}
	if localHead.IsZero() {
		return nil, fmt.Errorf("transfer: branch %q has no local commits to push", branch)
	}

	hs, err := c.handshake(ctx, branch, localHead)
	if err != nil {
		return nil, err
	}
	if hs.RemoteHead == localHead {
		return &PushResult{UpToDate: true, OldHead: hs.RemoteHead, NewHead: hs.RemoteHead}, nil
	}
	if !force && !hs.RemoteHead.IsZero() {
		isAncestor, err := c.Refs.IsAncestor(hs.RemoteHead, localHead)
		if err != nil {
			return nil, err
		}
		if !isAncestor {
			return nil, &ozerr.RemoteRejected{Reason: "remote has diverged; fetch/merge or pass --force"}
		}
	}

	localAncestry, err := c.Refs.Ancestors(localHead, 0)
	if err != nil {
		return nil, err
	}
	var remoteAncestry map[oxhash.ContentHash]bool
	if !hs.RemoteHead.IsZero() {
		remoteList, err := c.ancestry(ctx, hs.RemoteHead, 0)
		if err != nil {
			return nil, err
		}
		remoteAncestry = make(map[oxhash.ContentHash]bool, len(remoteList))
		for _, h := range remoteList {
			remoteAncestry[h] = true
		}
	}

	var toSend []oxhash.ContentHash
	for _, h := range localAncestry {
		if !remoteAncestry[h] {
			toSend = append(toSend, h)
		}
	}

	blobsPushed := 0
	for _, hash := range toSend {
		commit, err := c.Refs.GetCommit(hash)
		if err != nil {
			return nil, err
		}
		tree, err := c.Tree.AllFiles(hash.String())
		if err != nil {
			return nil, err
		}
		n, err := c.pushCommitTree(ctx, commit, tree)
		if err != nil {
			return nil, err
		}
		blobsPushed += n
		if err := c.pushCommit(ctx, commit); err != nil {
			return nil, err
		}
	}

	if err := c.refUpdate(ctx, branch, hs.RemoteHead, localHead, force); err != nil {
		return nil, err
	}

	return &PushResult{OldHead: hs.RemoteHead, NewHead: localHead, CommitsPushed: len(toSend), BlobsPushed: blobsPushed}, nil
}

func (c *Client) resolveLocalBranch(branch string) (oxhash.ContentHash, error) {
	head, ok, err := c.Refs.ResolveBranch(branch)
	if err != nil {
		if _, isNotFound := err.(*ozerr.BranchNotFound); isNotFound {
			return oxhash.ContentHash{}, nil
		}
		return oxhash.ContentHash{}, err
	}
	if !ok {
		return oxhash.ContentHash{}, nil
	}
	return head, nil
}

func (c *Client) missingCommits(ctx context.Context, localHead, remoteHead oxhash.ContentHash) ([]oxhash.ContentHash, error) {
	remoteAncestry, err := c.ancestry(ctx, remoteHead, 0)
	if err != nil {
		return nil, err
	}
	localSet := map[oxhash.ContentHash]bool{}
	if !localHead.IsZero() {
		localAncestry, err := c.Refs.Ancestors(localHead, 0)
		if err != nil {
			return nil, err
		}
		for _, h := range localAncestry {
			localSet[h] = true
		}
	}
	var missing []oxhash.ContentHash
	for _, h := range remoteAncestry {
		if !localSet[h] {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// assembleTree reconstructs commit's full per-path Tree from caches keyed
// by content hash, so repeat subtrees shared across commits in one pull
// session are transferred once but still persisted correctly under every
// commit's own path layout (§4.9 step 3).
func assembleTree(rootHash oxhash.ContentHash, dirCache map[oxhash.ContentHash]merkle.DirNode, fileCache map[oxhash.ContentHash]merkle.FileNode) (*merkle.Tree, error) {
	t := &merkle.Tree{RootHash: rootHash, Dirs: map[string]*merkle.DirNode{}, Files: map[string]*merkle.FileNode{}}
	var walk func(hash oxhash.ContentHash, dirPath string) error
	walk = func(hash oxhash.ContentHash, dirPath string) error {
		node, ok := dirCache[hash]
		if !ok {
			return fmt.Errorf("missing dir node for hash %s", hash)
		}
		cp := node
		t.Dirs[dirPath] = &cp
		for _, child := range node.Children {
			childPath := path.Join(dirPath, child.Name)
			if child.Kind == merkle.ChildDir {
				if err := walk(child.Hash, childPath); err != nil {
					return err
				}
				continue
			}
			f, ok := fileCache[child.Hash]
			if !ok {
				return fmt.Errorf("missing file node for hash %s", child.Hash)
			}
			fc := f
			t.Files[childPath] = &fc
		}
		return nil
	}
	if err := walk(rootHash, ""); err != nil {
		return nil, err
	}
	return t, nil
}

func knownHashes(dirCache map[oxhash.ContentHash]merkle.DirNode) []oxhash.ContentHash {
	out := make([]oxhash.ContentHash, 0, len(dirCache))
	for h := range dirCache {
		out = append(out, h)
	}
	return out
}

// blobWant is one blob a pull needs, with its size when known. RowIndex
// blobs have no separately recorded size, so they always use the whole-body
// path below chunkedTransferThreshold.
type blobWant struct {
	Hash oxhash.ContentHash
	Size int64
}

func neededBlobs(blobs *objstore.Store, files []FileRecord) []blobWant {
	seen := map[oxhash.ContentHash]bool{}
	var out []blobWant
	add := func(h oxhash.ContentHash, size int64) {
		if seen[h] || blobs.Has(h) {
			return
		}
		seen[h] = true
		out = append(out, blobWant{Hash: h, Size: size})
	}
	for _, f := range files {
		add(f.Node.Hash, f.Node.Size)
		if f.Node.RowIndexHash != nil {
			add(*f.Node.RowIndexHash, 0)
		}
	}
	return out
}

// fetchBlobs downloads every hash in needed with bounded concurrency and
// exponential-backoff retry, verifying each blob's content against its
// declared hash on arrival (§4.9 step 4).
func (c *Client) fetchBlobs(ctx context.Context, needed []blobWant) error {
	workers := c.Concurrency
	if workers <= 0 {
		workers = DefaultBlobConcurrency
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	errCh := make(chan error, len(needed))
	total := int64(len(needed))
	var done int64

	for _, w := range needed {
		w := w
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.fetchBlobWithRetry(ctx, w.Hash, w.Size); err != nil {
				errCh <- err
				return
			}
			if c.OnProgress != nil {
				c.OnProgress("fetch", atomic.AddInt64(&done, 1), total)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// fetchBlobWithRetry downloads one blob. Blobs at or above
// chunkedTransferThreshold go through fetchBlobChunked so a killed pull
// resumes from disk instead of re-requesting bytes already downloaded
// (§6.3, scenario S6); everything else keeps the single whole-body GET.
func (c *Client) fetchBlobWithRetry(ctx context.Context, hash oxhash.ContentHash, size int64) error {
	if size >= chunkedTransferThreshold {
		return c.fetchBlobChunked(ctx, hash, size)
	}
	b, err := retry.NewExponential(200 * time.Millisecond)
	if err != nil {
		return err
	}
	b = retry.WithMaxRetries(4, b)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/blob/"+hash.String(), nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: err})
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: fmt.Errorf("blob %s: status %d", hash, resp.StatusCode)})
		}
		got, err := c.Blobs.Put(resp.Body)
		if err != nil {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: err})
		}
		if got != hash {
			return retry.RetryableError(&ozerr.BlobCorrupted{Hash: hash.String()})
		}
		return nil
	})
}

// partialPath is where a chunked download's in-progress bytes live: outside
// the shard layout and not named tmp-*, so sweepStaleTemps never reaps it
// and a restarted client finds it still there.
func (c *Client) partialPath(hash oxhash.ContentHash) string {
	return filepath.Join(c.Blobs.Root(), "partial", hash.String()+".part")
}

// fetchBlobChunked downloads a large blob in Range-bounded pieces, appending
// to a local partial file. A restart picks up wherever that file's size
// says the previous attempt left off, so only the unsent suffix crosses the
// network again (§6.3, scenario S6).
func (c *Client) fetchBlobChunked(ctx context.Context, hash oxhash.ContentHash, size int64) error {
	partial := c.partialPath(hash)
	if err := os.MkdirAll(filepath.Dir(partial), 0o755); err != nil {
		return err
	}

	for {
		offset, err := partialFileSize(partial)
		if err != nil {
			return err
		}
		if offset >= size {
			break
		}
		end := offset + transferChunkSize - 1
		if end >= size {
			end = size - 1
		}
		if err := c.fetchRangeWithRetry(ctx, hash, partial, offset, end); err != nil {
			return err
		}
	}

	f, err := os.Open(partial)
	if err != nil {
		return err
	}
	got, putErr := c.Blobs.Put(f)
	closeErr := f.Close()
	if putErr != nil {
		return putErr
	}
	if closeErr != nil {
		return closeErr
	}
	if got != hash {
		return &ozerr.BlobCorrupted{Hash: hash.String()}
	}
	return os.Remove(partial)
}

func partialFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

func (c *Client) fetchRangeWithRetry(ctx context.Context, hash oxhash.ContentHash, partial string, start, end int64) error {
	b, err := retry.NewExponential(200 * time.Millisecond)
	if err != nil {
		return err
	}
	b = retry.WithMaxRetries(4, b)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/blob/"+hash.String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: err})
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusPartialContent {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: fmt.Errorf("blob %s: range status %d", hash, resp.StatusCode)})
		}
		f, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return err
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: err})
		}
		return nil
	})
}

func (c *Client) handshake(ctx context.Context, branch string, localHead oxhash.ContentHash) (*HandshakeResponse, error) {
	var resp HandshakeResponse
	err := c.postJSON(ctx, "/handshake", HandshakeRequest{Branch: branch, LocalHead: localHead}, &resp)
	return &resp, err
}

func (c *Client) ancestry(ctx context.Context, from oxhash.ContentHash, depthCap int) ([]oxhash.ContentHash, error) {
	var resp AncestryResponse
	err := c.postJSON(ctx, "/ancestry", AncestryRequest{From: from, DepthCap: depthCap}, &resp)
	return resp.Hashes, err
}

func (c *Client) fetchCommits(ctx context.Context, hashes []oxhash.ContentHash) ([]CommitRecord, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	var resp CommitsResponse
	err := c.postJSON(ctx, "/commits", CommitsRequest{Hashes: hashes}, &resp)
	return resp.Commits, err
}

func (c *Client) treeDiff(ctx context.Context, commit oxhash.ContentHash, known []oxhash.ContentHash) (*TreeDiffResponse, error) {
	var resp TreeDiffResponse
	err := c.postJSON(ctx, "/treediff", TreeDiffRequest{Commit: commit, KnownDirHashes: known}, &resp)
	return &resp, err
}

func (c *Client) refUpdate(ctx context.Context, branch string, expected, newHead oxhash.ContentHash, force bool) error {
	var resp RefUpdateResponse
	if err := c.postJSON(ctx, "/refupdate", RefUpdateRequest{Branch: branch, Expected: expected, New: newHead, Force: force}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &ozerr.RemoteRejected{Reason: resp.Error}
	}
	return nil
}

// pushCommitTree ships commit's full dir/file set and returns how many
// distinct blobs were uploaded (push doesn't apply the known-hash
// short-circuit pull uses, see DESIGN.md's C9 entry).
func (c *Client) pushCommitTree(ctx context.Context, commit *refs.CommitNode, files map[string]*merkle.FileNode) (int, error) {
	dirs, err := c.collectDirs(commit.Hash.String())
	if err != nil {
		return 0, err
	}
	fileRecords := make([]FileRecord, 0, len(files))
	needed := map[oxhash.ContentHash]int64{}
	for p, f := range files {
		fileRecords = append(fileRecords, FileRecord{Path: p, Node: *f})
		needed[f.Hash] = f.Size
		if f.RowIndexHash != nil {
			needed[*f.RowIndexHash] = 0
		}
	}

	// Blobs land before the tree record that references them, so a crash
	// mid-push never leaves the remote with a tree pointing at missing blobs.
	total := int64(len(needed))
	var done int64
	for h, size := range needed {
		if err := c.pushBlobWithRetry(ctx, h, size); err != nil {
			return 0, err
		}
		done++
		if c.OnProgress != nil {
			c.OnProgress("push", done, total)
		}
	}

	req := PushTreeRequest{Commit: commit.Hash, Dirs: dirs, Files: fileRecords}
	if err := c.postJSONNoResponse(ctx, "/push/tree", req); err != nil {
		return 0, err
	}
	return len(needed), nil
}

// collectDirs walks commit's dir records starting at root, since
// merkle.Store has no bulk "all dirs" accessor symmetric to AllFiles.
func (c *Client) collectDirs(commit string) ([]DirRecord, error) {
	var out []DirRecord
	var walk func(dirPath string) error
	walk = func(dirPath string) error {
		d, ok, err := c.Tree.Dir(commit, dirPath)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		out = append(out, DirRecord{Path: dirPath, Node: *d})
		for _, child := range d.Children {
			if child.Kind == merkle.ChildDir {
				if err := walk(path.Join(dirPath, child.Name)); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}

// pushBlobWithRetry uploads one blob. Blobs at or above
// chunkedTransferThreshold go through pushBlobChunked, which asks the
// server's resume offset first (§6.3, scenario S6); everything else keeps
// the single whole-body PUT.
func (c *Client) pushBlobWithRetry(ctx context.Context, hash oxhash.ContentHash, size int64) error {
	if size >= chunkedTransferThreshold {
		return c.pushBlobChunked(ctx, hash, size)
	}
	b, err := retry.NewExponential(200 * time.Millisecond)
	if err != nil {
		return err
	}
	b = retry.WithMaxRetries(4, b)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		rc, err := c.Blobs.Get(hash)
		if err != nil {
			return err // local read failure isn't retryable against the network
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/blob/"+hash.String(), bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("X-Content-Hash", hash.String())
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: err})
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: fmt.Errorf("push blob %s: status %d", hash, resp.StatusCode)})
		}
		return nil
	})
}

// pushBlobChunked uploads a large blob via Content-Range chunked PUTs.
// Querying /blob-status/ first lets a client restarted mid-push resume at
// exactly the offset the server already has, bounding re-sent bytes to the
// last chunk in flight when it was killed (§6.3, scenario S6).
func (c *Client) pushBlobChunked(ctx context.Context, hash oxhash.ContentHash, size int64) error {
	offset, err := c.blobStatus(ctx, hash, size)
	if err != nil {
		return err
	}
	for offset < size {
		end := offset + transferChunkSize - 1
		if end >= size {
			end = size - 1
		}
		if err := c.pushChunkWithRetry(ctx, hash, size, offset, end); err != nil {
			return err
		}
		offset = end + 1
	}
	return nil
}

func (c *Client) blobStatus(ctx context.Context, hash oxhash.ContentHash, size int64) (int64, error) {
	url := fmt.Sprintf("%s/blob-status/%s?total=%d", c.BaseURL, hash.String(), size)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, &ozerr.NetworkError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, &ozerr.RemoteRejected{Reason: fmt.Sprintf("blob-status %s: %s", hash, string(body))}
	}
	var status BlobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return 0, err
	}
	return status.Received, nil
}

func (c *Client) pushChunkWithRetry(ctx context.Context, hash oxhash.ContentHash, total, start, end int64) error {
	b, err := retry.NewExponential(200 * time.Millisecond)
	if err != nil {
		return err
	}
	b = retry.WithMaxRetries(4, b)
	length := end - start + 1
	return retry.Do(ctx, b, func(ctx context.Context) error {
		rc, err := c.Blobs.Get(hash)
		if err != nil {
			return err
		}
		defer rc.Close()
		if start > 0 {
			if _, err := io.CopyN(io.Discard, rc, start); err != nil {
				return err
			}
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(rc, data); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/blob/"+hash.String(), bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("X-Content-Hash", hash.String())
		req.Header.Set("Content-Range", contentRange(start, end, total))
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: err})
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
			return retry.RetryableError(&ozerr.NetworkError{Retryable: true, Err: fmt.Errorf("push blob %s chunk: status %d", hash, resp.StatusCode)})
		}
		return nil
	})
}

func (c *Client) pushCommit(ctx context.Context, commit *refs.CommitNode) error {
	return c.postJSONNoResponse(ctx, "/push/commit", toCommitRecord(commit))
}

func (c *Client) postJSON(ctx context.Context, route string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+route, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &ozerr.NetworkError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ozerr.RemoteRejected{Reason: fmt.Sprintf("%s: %s", route, string(body))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSONNoResponse(ctx context.Context, route string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+route, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &ozerr.NetworkError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ozerr.RemoteRejected{Reason: fmt.Sprintf("%s: %s", route, string(body))}
	}
	return nil
}
