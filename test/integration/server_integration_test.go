//go:build integration
// +build integration

package integration

import (
	"encoding/json"
	"net/http"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oxen-ai/oxen/internal/repo"
	"github.com/oxen-ai/oxen/internal/server"
)

// TestServerIntegration verifies the server starts, serves the read API
// over HTTP, and pushes status over WebSocket, against a real repository.
//
// Note: This test cannot run in parallel; it binds a fixed port.
func TestServerIntegration(t *testing.T) {
	dir := t.TempDir()
	r, err := repo.Init(dir)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	defer r.Close()

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("README.md"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := r.Commit("initial commit"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	srv := server.NewServer(r, ":18080")
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	default:
	}

	baseURL := "http://localhost:18080"
	defer srv.Shutdown()

	t.Run("health endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("health check status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var healthResp map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
			t.Fatalf("failed to decode health response: %v", err)
		}
		if healthResp["status"] != "ok" {
			t.Errorf("health status = %q, want %q", healthResp["status"], "ok")
		}
	})

	t.Run("repository endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/repository")
		if err != nil {
			t.Fatalf("repository request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var repoResp map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&repoResp); err != nil {
			t.Fatalf("failed to decode repository response: %v", err)
		}
		if _, ok := repoResp["currentBranch"]; !ok {
			t.Error("response missing 'currentBranch' field")
		}
		if repoResp["commitCount"].(float64) != 1 {
			t.Errorf("commitCount = %v, want 1", repoResp["commitCount"])
		}
	})

	t.Run("websocket connection", func(t *testing.T) {
		wsURL := "ws://localhost:18080/api/ws"

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("websocket dial failed: %v (status: %v)", err, resp)
		}
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read initial message: %v", err)
		}
		if messageType != websocket.TextMessage {
			t.Errorf("message type = %d, want %d (TextMessage)", messageType, websocket.TextMessage)
		}

		var initialMsg struct {
			Head   *struct{ Hash string } `json:"head"`
			Status any                    `json:"status"`
		}
		if err := json.Unmarshal(message, &initialMsg); err != nil {
			t.Fatalf("failed to unmarshal initial message: %v", err)
		}
		if initialMsg.Head == nil {
			t.Error("initial message missing head")
		}

		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			t.Errorf("failed to send ping: %v", err)
		}
	})

	t.Run("invalid hash returns 400", func(t *testing.T) {
		time.Sleep(100 * time.Millisecond)
		resp, err := http.Get(baseURL + "/api/blob/invalid-hash")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("path traversal blocked", func(t *testing.T) {
		time.Sleep(100 * time.Millisecond)
		actor := uuid.New()
		url := baseURL + "/api/workspace/main/" + actor.String() + "/add?path=" + neturl.QueryEscape("../../etc/passwd")
		resp, err := http.Post(url, "application/octet-stream", strings.NewReader("malicious"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("path traversal should return 400, got %d", resp.StatusCode)
		}
	})

	t.Run("rate limiting", func(t *testing.T) {
		time.Sleep(time.Second)

		client := &http.Client{Timeout: 2 * time.Second}

		var successCount, rateLimitedCount int
		for i := 0; i < 200; i++ {
			resp, err := client.Get(baseURL + "/api/repository")
			if err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
			resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				successCount++
			} else if resp.StatusCode == http.StatusTooManyRequests {
				rateLimitedCount++
			}
		}

		if rateLimitedCount == 0 {
			t.Log("Warning: no requests were rate limited (may indicate rate limiting is disabled)")
		}
		t.Logf("Requests: %d successful, %d rate limited", successCount, rateLimitedCount)
	})
}

// TestServerShutdown is covered by TestServerIntegration's cleanup; a
// separate instance can't bind the same fixed port in the same run.
func TestServerShutdown(t *testing.T) {
	t.Skip("covered by TestServerIntegration's deferred Shutdown")
}
