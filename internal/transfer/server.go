package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/objstore"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/refs"
)

// Server exposes one repository's refs, tree, and blobs over HTTP for push,
// pull, and clone (§4.9, §6.3). Routes are mounted under a single prefix so
// several repositories can be served from one process by mounting several
// Servers at different prefixes.
type Server struct {
	Refs  *refs.Store
	Tree  *merkle.Store
	Blobs *objstore.Store
}

// Handler returns an http.Handler implementing the wire protocol.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /handshake", s.handleHandshake)
	mux.HandleFunc("POST /ancestry", s.handleAncestry)
	mux.HandleFunc("POST /treediff", s.handleTreeDiff)
	mux.HandleFunc("POST /commits", s.handleCommits)
	mux.HandleFunc("POST /refupdate", s.handleRefUpdate)
	mux.HandleFunc("GET /blob/", s.handleBlob)
	mux.HandleFunc("PUT /blob/", s.handlePutBlob)
	mux.HandleFunc("GET /blob-status/", s.handleBlobStatus)
	mux.HandleFunc("POST /push/tree", s.handlePushTree)
	mux.HandleFunc("POST /push/commit", s.handlePushCommit)
	return mux
}

// handlePutBlob accepts a blob push: the client streams raw content and
// names the hash it expects via X-Content-Hash, letting the server reject a
// mismatch the same way a download does on the pull side (§4.9 step 4's
// "verified by re-hashing on arrival"). A request carrying Content-Range is
// one chunk of a larger upload (§6.3); the whole-body path below handles
// everything else, unchanged from before chunked resume existed.
func (s *Server) handlePutBlob(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	want, err := oxhash.Parse(r.Header.Get("X-Content-Hash"))
	if err != nil {
		http.Error(w, "missing or invalid X-Content-Hash", http.StatusBadRequest)
		return
	}

	if cr := r.Header.Get("Content-Range"); cr != "" {
		s.handlePutBlobChunk(w, r, want, cr)
		return
	}

	got, err := s.Blobs.Put(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if got != want {
		http.Error(w, fmt.Sprintf("blob hash mismatch: declared %s, computed %s", want, got), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePutBlobChunk stores one Content-Range chunk of a declared-hash
// upload via objstore's resumable-upload primitives, finalizing (rehashing
// and publishing a Manifest) once the last chunk arrives.
func (s *Server) handlePutBlobChunk(w http.ResponseWriter, r *http.Request, want oxhash.ContentHash, cr string) {
	start, end, total, err := parseContentRange(cr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if int64(len(data)) != end-start+1 {
		http.Error(w, "Content-Range length does not match body size", http.StatusBadRequest)
		return
	}

	if err := s.Blobs.PutChunkAt(want, total, transferChunkSize, start, data); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if end+1 < total {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	manifest, err := s.Blobs.FinalizeUpload(want, total, transferChunkSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if manifest.Hash != want {
		http.Error(w, fmt.Sprintf("blob hash mismatch: declared %s, computed %s", want, manifest.Hash), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBlobStatus reports how many leading bytes of a chunked upload the
// server already has, so a client resuming after a restart knows where to
// continue (§6.3, scenario S6's "only the unsent byte ranges are
// re-uploaded"). total is a query param the client already knows from when
// it started the upload; the chunk size is transferChunkSize on both sides.
func (s *Server) handleBlobStatus(w http.ResponseWriter, r *http.Request) {
	hashHex := strings.TrimPrefix(r.URL.Path, "/blob-status/")
	h, err := oxhash.Parse(hashHex)
	if err != nil {
		http.Error(w, "invalid blob hash", http.StatusBadRequest)
		return
	}
	total, err := strconv.ParseInt(r.URL.Query().Get("total"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid total", http.StatusBadRequest)
		return
	}
	received, err := s.Blobs.UploadProgress(h, total, transferChunkSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, BlobStatusResponse{Received: received})
}

// PushTreeRequest carries one commit's full dir/file record set — unlike
// pull's treediff, push ships the whole tree because the sender has no way
// to learn the receiver's known-hash set without an extra round trip the
// wire protocol doesn't define (see DESIGN.md's C9 entry).
type PushTreeRequest struct {
	Commit oxhash.ContentHash `json:"commit"`
	Dirs   []DirRecord        `json:"dirs"`
	Files  []FileRecord       `json:"files"`
}

func (s *Server) handlePushTree(w http.ResponseWriter, r *http.Request) {
	var req PushTreeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t := &merkle.Tree{
		RootHash: req.Commit,
		Dirs:     make(map[string]*merkle.DirNode, len(req.Dirs)),
		Files:    make(map[string]*merkle.FileNode, len(req.Files)),
	}
	for _, d := range req.Dirs {
		node := d.Node
		t.Dirs[d.Path] = &node
	}
	for _, f := range req.Files {
		node := f.Node
		t.Files[f.Path] = &node
	}
	rootDir, ok := t.Dirs[""]
	if ok {
		t.RootHash = rootDir.Hash
	}
	if err := s.Tree.Persist(req.Commit.String(), t); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePushCommit(w http.ResponseWriter, r *http.Request) {
	var rec CommitRecord
	if !decodeJSON(w, r, &rec) {
		return
	}
	if err := s.Refs.PutCommit(fromCommitRecord(rec)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func fromCommitRecord(cr CommitRecord) *refs.CommitNode {
	return &refs.CommitNode{
		Hash:        cr.Hash,
		RootDirHash: cr.RootDirHash,
		Parents:     cr.Parents,
		Author:      refs.ActorId{Name: cr.AuthorName, Email: cr.AuthorEmail},
		Timestamp:   timeFromNS(cr.TimestampNS),
		Message:     cr.Message,
	}
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	remoteHead, _, err := s.Refs.ResolveBranch(req.Branch)
	if err != nil {
		if _, ok := err.(*ozerr.BranchNotFound); ok {
			remoteHead = oxhash.ContentHash{}
		} else {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, HandshakeResponse{RemoteHead: remoteHead, ProtocolVersion: ProtocolVersion})
}

func (s *Server) handleAncestry(w http.ResponseWriter, r *http.Request) {
	var req AncestryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	depthCap := req.DepthCap
	if depthCap <= 0 {
		depthCap = DefaultDepthCap
	}
	hashes, err := s.Refs.Ancestors(req.From, depthCap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, AncestryResponse{Hashes: hashes})
}

func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	var req CommitsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp := CommitsResponse{Commits: make([]CommitRecord, 0, len(req.Hashes))}
	for _, h := range req.Hashes {
		c, err := s.Refs.GetCommit(h)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		resp.Commits = append(resp.Commits, toCommitRecord(c))
	}
	writeJSON(w, resp)
}

func (s *Server) handleTreeDiff(w http.ResponseWriter, r *http.Request) {
	var req TreeDiffRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	known := make(map[oxhash.ContentHash]bool, len(req.KnownDirHashes))
	for _, h := range req.KnownDirHashes {
		known[h] = true
	}
	var resp TreeDiffResponse
	if err := walkUnknownSubtree(s.Tree, req.Commit.String(), "", known, &resp); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, resp)
}

// walkUnknownSubtree descends commit's tree from dirPath, collecting every
// dir/file record, but stops descending into any child whose Hash the
// caller already reports knowing — the same short-circuit merkle.Diff uses
// between two local commits, applied instead against a peer-supplied
// known-hash set (§4.9 step 3).
func walkUnknownSubtree(store *merkle.Store, commit, dirPath string, known map[oxhash.ContentHash]bool, out *TreeDiffResponse) error {
	dir, ok, err := store.Dir(commit, dirPath)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	out.Dirs = append(out.Dirs, DirRecord{Path: dirPath, Node: *dir})

	for _, child := range dir.Children {
		if known[child.Hash] {
			continue
		}
		childPath := path.Join(dirPath, child.Name)
		if child.Kind == merkle.ChildDir {
			if err := walkUnknownSubtree(store, commit, childPath, known, out); err != nil {
				return err
			}
			continue
		}
		f, ok, err := store.File(commit, childPath)
		if err != nil {
			return err
		}
		if ok {
			out.Files = append(out.Files, FileRecord{Path: childPath, Node: *f})
		}
	}
	return nil
}

func (s *Server) handleRefUpdate(w http.ResponseWriter, r *http.Request) {
	var req RefUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Force {
		// A force-push bypasses the CAS precondition entirely: read the
		// current tip only to report it back, then set unconditionally.
		cur, _, err := s.Refs.ResolveBranch(req.Branch)
		if err != nil {
			cur = oxhash.ContentHash{}
		}
		if err := s.Refs.UpdateRef(req.Branch, cur, req.New); err != nil {
			writeJSON(w, RefUpdateResponse{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, RefUpdateResponse{OK: true})
		return
	}
	if err := s.Refs.UpdateRef(req.Branch, req.Expected, req.New); err != nil {
		writeJSON(w, RefUpdateResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, RefUpdateResponse{OK: true})
}

// handleBlob streams a stored blob's decompressed content, honoring a
// single-range Range request for chunked/resumable download (§6.3). A
// blob stored in chunked mode (because it was pushed in chunks, or added
// locally via PutChunked) serves its range through objstore.OpenRange,
// which only decompresses the chunks the range overlaps; a whole-file-mode
// blob falls back to decompressing from the start and discarding the
// skipped prefix, since objstore never indexes offsets within a single
// zstd stream.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	hashHex := strings.TrimPrefix(r.URL.Path, "/blob/")
	h, err := oxhash.Parse(hashHex)
	if err != nil {
		http.Error(w, "invalid blob hash", http.StatusBadRequest)
		return
	}

	rangeHdr := r.Header.Get("Range")
	if rangeHdr == "" {
		rc, err := s.Blobs.Get(h)
		if err != nil {
			http.Error(w, "blob not found", http.StatusNotFound)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, rc) // client disconnect mid-stream isn't actionable here
		return
	}

	start, end, hasEnd, err := parseRange(rangeHdr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if m, merr := s.Blobs.GetManifest(h); merr == nil {
		length := m.Size - start
		if hasEnd {
			length = end - start + 1
		}
		rc, err := s.Blobs.OpenRange(h, start, length)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Range", contentRange(start, start+length-1, m.Size))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.Copy(w, rc)
		return
	}

	rc, err := s.Blobs.Get(h)
	if err != nil {
		http.Error(w, "blob not found", http.StatusNotFound)
		return
	}
	defer rc.Close()
	if start > 0 {
		if _, err := io.CopyN(io.Discard, rc, start); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if hasEnd {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", start, end))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.CopyN(w, rc, end-start+1)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-*/*", start))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = io.Copy(w, rc)
}

func toCommitRecord(c *refs.CommitNode) CommitRecord {
	return CommitRecord{
		Hash:        c.Hash,
		RootDirHash: c.RootDirHash,
		Parents:     c.Parents,
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
		TimestampNS: c.Timestamp.UnixNano(),
		Message:     c.Message,
	}
}

func timeFromNS(ns int64) time.Time { return time.Unix(0, ns).UTC() }

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}
