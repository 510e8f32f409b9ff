package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// splitCommitPath extracts and validates a "{commit}/{path...}" suffix from
// a request's URL, the read-side counterpart to extractHashParam in the
// teacher's handlers.go. Oxen's tree/blob browsing is keyed by commit hash
// rather than a single tree-object hash, so the path carries both the
// commit and the in-tree path.
func splitCommitPath(w http.ResponseWriter, r *http.Request, prefix string) (commit, path string, ok bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", "", false
	}

	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == "" || rest == r.URL.Path {
		http.Error(w, "Missing commit in path", http.StatusBadRequest)
		return "", "", false
	}
	rest = strings.TrimPrefix(rest, "/")

	var commitPart, pathPart string
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		commitPart, pathPart = rest[:idx], rest[idx+1:]
	} else {
		commitPart = rest
	}

	clean, err := sanitizePath(pathPart)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return "", "", false
	}
	return commitPart, clean, true
}

// handleRepository serves repository metadata for the client's initial load.
func (s *Server) handleRepository(w http.ResponseWriter, r *http.Request) {
	repository := sessionFromCtx(r.Context()).Repo()

	head, err := repository.Refs().GetHead()
	if err != nil {
		http.Error(w, fmt.Sprintf("reading HEAD: %v", err), http.StatusInternalServerError)
		return
	}
	commits, err := repository.Log(0, 1)
	commitCount := 0
	if err == nil {
		commitCount = len(commits)
	}

	response := map[string]any{
		"workDir":       repository.WorkDir(),
		"currentBranch": head.Branch,
		"headDetached":  head.Branch == "",
		"defaultBranch": repository.DefaultBranch(),
		"remotes":       repository.Remotes(),
		"commitCount":   commitCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleTree serves a directory listing at {commit}/{path} via REST API
// (§4.4's merkle tree, browsed by commit rather than by a bare tree hash).
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	commit, path, ok := splitCommitPath(w, r, "/api/tree/")
	if !ok {
		return
	}
	repository := sessionFromCtx(r.Context()).Repo()

	cacheKey := commit + ":" + path
	if cached, hit := s.treeCache.Get(cacheKey); hit {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cached)
		return
	}

	dir, found, err := repository.Tree().Dir(commit, path)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load tree: %v", err), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	// A commit's tree never changes once written, so caching by commit+path
	// is safe even though the working tree beyond HEAD is still mutable.
	s.treeCache.Put(cacheKey, dir)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dir); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleFile serves a single tracked file's metadata at {commit}/{path}.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	commit, path, ok := splitCommitPath(w, r, "/api/file/")
	if !ok {
		return
	}
	if path == "" {
		http.Error(w, "Missing file path", http.StatusBadRequest)
		return
	}
	repository := sessionFromCtx(r.Context()).Repo()

	node, found, err := repository.Tree().File(commit, path)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load file: %v", err), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(node); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleBlob serves raw blob content via REST API.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/blob/")
	if path == "" || path == r.URL.Path {
		http.Error(w, "Missing hash in path", http.StatusBadRequest)
		return
	}

	hash, err := oxhash.Parse(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid hash format: %v", err), http.StatusBadRequest)
		return
	}

	repository := sessionFromCtx(r.Context()).Repo()
	rc, err := repository.Blobs().Get(hash)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load blob: %v", err), http.StatusNotFound)
		return
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		http.Error(w, "Failed to read blob", http.StatusInternalServerError)
		return
	}

	isBinary := isBinaryContent(content)
	response := map[string]any{
		"hash":      hash.String(),
		"size":      len(content),
		"binary":    isBinary,
		"truncated": false,
	}
	if isBinary {
		response["content"] = ""
	} else {
		const maxSize = 512 * 1024
		text := string(content)
		if len(text) > maxSize {
			text = text[:maxSize]
			response["truncated"] = true
		}
		response["content"] = text
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// isBinaryContent checks if content appears to be binary by looking for
// null bytes in the first 8KB, matching Git's own heuristic.
func isBinaryContent(content []byte) bool {
	checkSize := min(8192, len(content))
	for i := range checkSize {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// handleLog serves commit history for the current branch (?page=&size=).
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil || size <= 0 {
		size = 20
	}

	repository := sessionFromCtx(r.Context()).Repo()
	commits, err := repository.Log(page, size)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load log: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(commits); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
