package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/refs"
	"github.com/oxen-ai/oxen/internal/workspace"
)

// registerWorkspaceRoutes mounts §4.10's remote-workspace operations under
// /api/workspace/{branch}/{actor}/{op}, one handler dispatching on the
// trailing op segment the way the teacher's handleRepoRoutes dispatched on
// a rewritten /api/repos/{id}/... suffix.
func (s *Server) registerWorkspaceRoutes(mux *http.ServeMux, writeDeadlineDur time.Duration) {
	mux.HandleFunc("/api/workspace/", writeDeadline(writeDeadlineDur, s.rateLimiter.middleware(withLocalSession(s.session, s.handleWorkspace))))
}

// handleWorkspace parses {branch}/{actor}/{op} from the URL and dispatches
// to the matching Workspace method.
func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/workspace/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		http.Error(w, "expected /api/workspace/{branch}/{actor}/{op}", http.StatusBadRequest)
		return
	}
	branch, actorRaw, op := parts[0], parts[1], parts[2]

	actor, err := uuid.Parse(actorRaw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid actor id: %v", err), http.StatusBadRequest)
		return
	}

	repository := sessionFromCtx(r.Context()).Repo()
	ws, err := repository.Workspaces().Open(branch, actor)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	defer ws.Close()

	switch op {
	case "add":
		s.handleWorkspaceAdd(w, r, ws)
	case "rm":
		s.handleWorkspaceRemove(w, r, ws)
	case "df-append":
		s.handleWorkspaceDFAppend(w, r, ws)
	case "df-delete":
		s.handleWorkspaceDFDelete(w, r, ws)
	case "status":
		s.handleWorkspaceStatus(w, r, ws)
	case "diff":
		s.handleWorkspaceDiff(w, r, ws)
	case "commit":
		s.handleWorkspaceCommit(w, r, ws)
	default:
		http.Error(w, "unknown workspace operation", http.StatusNotFound)
	}
}

func (s *Server) handleWorkspaceAdd(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := sanitizedQueryPath(w, r)
	if err != nil {
		return
	}
	content, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	hash, err := ws.Add(path, content)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hash": hash.String()})
}

func (s *Server) handleWorkspaceRemove(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := sanitizedQueryPath(w, r)
	if err != nil {
		return
	}
	if err := ws.Remove(path); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkspaceDFAppend(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := sanitizedQueryPath(w, r)
	if err != nil {
		return
	}
	row, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	rowID, err := ws.DFAppend(path, row)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rowId": rowID})
}

func (s *Server) handleWorkspaceDFDelete(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rowID := r.URL.Query().Get("rowId")
	if rowID == "" {
		http.Error(w, "missing rowId query parameter", http.StatusBadRequest)
		return
	}
	if err := ws.DFDelete(rowID); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkspaceStatus(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status, err := ws.Status()
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWorkspaceDiff(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := sanitizedQueryPath(w, r)
	if err != nil {
		return
	}
	entry, rows, err := ws.Diff(path)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staged": entry, "pendingRows": rows})
}

type commitRequest struct {
	Message string `json:"message"`
	Author  *struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"author"`
}

func (s *Server) handleWorkspaceCommit(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "missing commit message", http.StatusBadRequest)
		return
	}

	author := sessionFromCtx(r.Context()).Repo().Author()
	actor := refs.ActorId{Name: author.Name, Email: author.Email}
	if req.Author != nil {
		if req.Author.Name != "" {
			actor.Name = req.Author.Name
		}
		if req.Author.Email != "" {
			actor.Email = req.Author.Email
		}
	}

	commit, err := ws.Commit(actor, req.Message)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commit)
}

// sanitizedQueryPath reads and validates the "path" query parameter shared
// by every path-bearing workspace operation, rejecting traversal attempts
// the same way splitCommitPath does for the read-side tree/file routes.
func sanitizedQueryPath(w http.ResponseWriter, r *http.Request) (string, error) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		http.Error(w, "missing path query parameter", http.StatusBadRequest)
		return "", fmt.Errorf("missing path")
	}
	clean, err := sanitizePath(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid path: %v", err), http.StatusBadRequest)
		return "", err
	}
	return clean, nil
}

// writeWorkspaceError maps the ozerr taxonomy onto HTTP status codes the
// way the CLI maps the same errors onto exit codes (§6.1/§6.3): a diverged
// ref is "merge required", a missing path or schema mismatch is a 4xx, and
// everything else is a 500.
func writeWorkspaceError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *ozerr.RefDiverged:
		http.Error(w, "merge required: branch has moved since this workspace was opened", http.StatusConflict)
	case *ozerr.PathNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case *ozerr.SchemaMismatch:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
