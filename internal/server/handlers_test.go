package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/oxen-ai/oxen/internal/repo"
)

// fixtureRepo opens a fresh repository with one committed file on the
// default branch, the shared starting point for every read-handler test.
func fixtureRepo(t *testing.T) *repo.Repository {
	t.Helper()
	dir := t.TempDir()
	r, err := repo.Init(dir)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write fixture file: %v", err)
	}
	if err := r.Add("hello.txt"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := r.Commit("first commit"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return r
}

func withCtx(session *RepoSession, req *http.Request) *http.Request {
	return req.WithContext(withSessionCtx(context.Background(), session))
}

func TestHandleRepository(t *testing.T) {
	r := fixtureRepo(t)
	session := NewRepoSession("test", r, testLogger())

	req := withCtx(session, httptest.NewRequest(http.MethodGet, "/api/repository", nil))
	w := httptest.NewRecorder()

	srv := &Server{session: session, treeCache: NewLRUCache[any](10)}
	srv.handleRepository(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["currentBranch"] != r.DefaultBranch() {
		t.Errorf("currentBranch = %v, want %v", body["currentBranch"], r.DefaultBranch())
	}
	if body["commitCount"].(float64) != 1 {
		t.Errorf("commitCount = %v, want 1", body["commitCount"])
	}
}

func TestHandleTreeAndFile(t *testing.T) {
	r := fixtureRepo(t)
	session := NewRepoSession("test", r, testLogger())
	srv := &Server{session: session, treeCache: NewLRUCache[any](10)}

	head, err := r.HeadCommitHash()
	if err != nil {
		t.Fatalf("head commit hash: %v", err)
	}

	treeReq := withCtx(session, httptest.NewRequest(http.MethodGet, "/api/tree/"+head.String()+"/", nil))
	treeW := httptest.NewRecorder()
	srv.handleTree(treeW, treeReq)
	if treeW.Code != http.StatusOK {
		t.Fatalf("tree status = %d, want %d: %s", treeW.Code, http.StatusOK, treeW.Body.String())
	}

	// A second request for the same commit+path should be served from cache
	// but return the identical payload.
	treeW2 := httptest.NewRecorder()
	srv.handleTree(treeW2, withCtx(session, httptest.NewRequest(http.MethodGet, "/api/tree/"+head.String()+"/", nil)))
	if treeW2.Body.String() != treeW.Body.String() {
		t.Errorf("cached tree response differs from first response")
	}

	fileReq := withCtx(session, httptest.NewRequest(http.MethodGet, "/api/file/"+head.String()+"/hello.txt", nil))
	fileW := httptest.NewRecorder()
	srv.handleFile(fileW, fileReq)
	if fileW.Code != http.StatusOK {
		t.Fatalf("file status = %d, want %d: %s", fileW.Code, http.StatusOK, fileW.Body.String())
	}

	fileReq404 := withCtx(session, httptest.NewRequest(http.MethodGet, "/api/file/"+head.String()+"/missing.txt", nil))
	fileW404 := httptest.NewRecorder()
	srv.handleFile(fileW404, fileReq404)
	if fileW404.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want %d", fileW404.Code, http.StatusNotFound)
	}
}

func TestHandleBlob(t *testing.T) {
	r := fixtureRepo(t)
	session := NewRepoSession("test", r, testLogger())
	srv := &Server{session: session, treeCache: NewLRUCache[any](10)}

	head, err := r.HeadCommitHash()
	if err != nil {
		t.Fatalf("head commit hash: %v", err)
	}
	node, found, err := r.Tree().File(head.String(), "hello.txt")
	if err != nil || !found {
		t.Fatalf("loading file node: found=%v err=%v", found, err)
	}

	req := withCtx(session, httptest.NewRequest(http.MethodGet, "/api/blob/"+node.Hash.String(), nil))
	w := httptest.NewRecorder()
	srv.handleBlob(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["content"] != "hello world" {
		t.Errorf("content = %q, want %q", body["content"], "hello world")
	}
	if body["binary"] != false {
		t.Errorf("binary = %v, want false", body["binary"])
	}
}

func TestHandleBlobInvalidHash(t *testing.T) {
	r := fixtureRepo(t)
	session := NewRepoSession("test", r, testLogger())
	srv := &Server{session: session, treeCache: NewLRUCache[any](10)}

	req := withCtx(session, httptest.NewRequest(http.MethodGet, "/api/blob/not-a-hash", nil))
	w := httptest.NewRecorder()
	srv.handleBlob(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleLog(t *testing.T) {
	r := fixtureRepo(t)
	session := NewRepoSession("test", r, testLogger())
	srv := &Server{session: session, treeCache: NewLRUCache[any](10)}

	req := withCtx(session, httptest.NewRequest(http.MethodGet, "/api/log?page=0&size=10", nil))
	w := httptest.NewRecorder()
	srv.handleLog(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var commits []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &commits); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(commits))
	}
}

func TestIsBinaryContent(t *testing.T) {
	if isBinaryContent([]byte("plain text")) {
		t.Error("plain text misidentified as binary")
	}
	if !isBinaryContent([]byte{0x00, 0x01, 0x02}) {
		t.Error("content with a null byte should be identified as binary")
	}
}
