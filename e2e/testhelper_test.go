package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/orchestrator/internal/auth"
	"github.com/makeasinger/orchestrator/internal/cache"
	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/handler"
	"github.com/makeasinger/orchestrator/internal/middleware"
	"github.com/makeasinger/orchestrator/internal/notify"
	"github.com/makeasinger/orchestrator/internal/orchestrator"
	ws "github.com/makeasinger/orchestrator/internal/websocket"
)

const (
	testJWTSecret     = "test-secret-for-e2e"
	testCallbackToken = "callback-token"
	testUser          = "test-user-123"
	testWallet        = "0xAbC0000000000000000000000000000000000001"
)

// fakeSuno stands in for the generation provider. Tasks report pending until
// finished is set.
type fakeSuno struct {
	mu       sync.Mutex
	next     int
	finished map[string]bool
}

func (f *fakeSuno) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/v1/generate":
		f.next++
		fmt.Fprintf(w, `{"code":200,"msg":"success","data":{"taskId":"task-%d"}}`, f.next)
	case "/api/v1/generate/record-info":
		taskID := r.URL.Query().Get("taskId")
		if f.finished[taskID] {
			w.Write([]byte(successBody(taskID)))
			return
		}
		fmt.Fprintf(w, `{"code":200,"data":{"taskId":%q,"status":"PENDING"}}`, taskID)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSuno) finish(taskID string) {
	f.mu.Lock()
	f.finished[taskID] = true
	f.mu.Unlock()
}

func successBody(taskID string) string {
	return fmt.Sprintf(`{"code":200,"data":{"taskId":%q,"status":"SUCCESS","response":{"sunoData":[
		{"id":"%s-a","title":"Rain","audioUrl":"https://cdn.example/%s-a.mp3","duration":180},
		{"id":"%s-b","title":"Rain","audioUrl":"https://cdn.example/%s-b.mp3","duration":176}]}}}`,
		taskID, taskID, taskID, taskID, taskID)
}

// fakeLedger stands in for the ledger gateway. Broadcast tasks are listed
// right away and every receipt confirms.
type fakeLedger struct {
	mu        sync.Mutex
	tasks     []string
	completed []string
}

func (f *fakeLedger) markCompleted(taskID string) {
	f.mu.Lock()
	f.completed = append(f.completed, taskID)
	f.mu.Unlock()
}

func (f *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/v1/fees/"):
		w.Write([]byte(`{"amount":"1000"}`))
	case path == "/v1/generations" && r.Method == http.MethodPost:
		var body struct {
			TaskID string `json:"taskId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.tasks = append(f.tasks, body.TaskID)
		fmt.Fprintf(w, `{"txHash":"0xtx-%s"}`, body.TaskID)
	case strings.HasPrefix(path, "/v1/tx/"):
		w.Write([]byte(`{"status":"confirmed","blockNumber":1}`))
	case strings.HasSuffix(path, "/tasks/completed"):
		writeTaskIDs(w, f.completed)
	case strings.HasSuffix(path, "/tasks"):
		writeTaskIDs(w, f.tasks)
	default:
		http.NotFound(w, r)
	}
}

func writeTaskIDs(w http.ResponseWriter, ids []string) {
	if ids == nil {
		ids = []string{}
	}
	data, _ := json.Marshal(map[string][]string{"taskIds": ids})
	w.Write(data)
}

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	orch   *orchestrator.Orchestrator
	suno   *fakeSuno
	ledger *fakeLedger
}

// finish makes the provider report taskID as done and the ledger list it as completed.
func (ta *testApp) finish(taskID string) {
	ta.suno.finish(taskID)
	ta.ledger.markCompleted(taskID)
}

// setupApp creates a Fiber app wired like main.go, backed by in-memory
// caching and fake provider and ledger servers.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	suno := &fakeSuno{finished: make(map[string]bool)}
	sunoSrv := httptest.NewServer(suno)
	t.Cleanup(sunoSrv.Close)
	ledger := &fakeLedger{}
	ledgerSrv := httptest.NewServer(ledger)
	t.Cleanup(ledgerSrv.Close)

	hub := ws.NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	sunoClient := client.NewSunoClient(&config.SunoConfig{APIKey: "key", BaseURL: sunoSrv.URL}, nil)
	ledgerClient := client.NewLedgerClient(&config.LedgerConfig{BaseURL: ledgerSrv.URL, ReceiptPoll: 10 * time.Millisecond}, nil)

	orch := orchestrator.New(orchestrator.Config{
		PollInterval:          50 * time.Millisecond,
		PollTimeout:           time.Second,
		MaxBackoff:            200 * time.Millisecond,
		LedgerRefreshInterval: 100 * time.Millisecond,
		UploadTimeout:         time.Second,
		ReceiptTimeout:        5 * time.Second,
	}, orchestrator.Deps{
		Generator: sunoClient,
		Ledger:    ledgerClient,
		Artifacts: client.NewArtifactStore(nil, nil),
		Cache:     cache.NewStore(cache.NewMemoryBackend(), "e2e", time.Hour),
		Dedup:     notify.NewDeduper(),
		Notifier:  hub,
	})
	t.Cleanup(orch.Shutdown)

	validate := validator.New()
	generationHandler := handler.NewGenerationHandler(orch, validate)
	sessionHandler := handler.NewSessionHandler(orch, hub, nil)
	callbackHandler := handler.NewCallbackHandler(orch, testCallbackToken, nil)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware, legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(nil, nil)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"sessions": orch.ActiveSessions(),
			"services": fiber.Map{
				"suno":   sunoClient.IsConfigured(),
				"ledger": true,
				"r2":     false,
				"redis":  false,
				"auth":   true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)
	app.Post("/api/callbacks/generation", callbackHandler.Generation)

	api := app.Group("/api", authMiddleware.Authenticate())

	session := api.Group("/session")
	session.Post("/connect", sessionHandler.Connect)
	session.Post("/disconnect", sessionHandler.Disconnect)

	// Use a very high rate limit so tests don't get blocked
	generations := api.Group("/generations")
	generations.Post("/", rateLimiter.SubmitLimit(10000), generationHandler.Submit)
	generations.Delete("/", generationHandler.Clear)
	generations.Get("/items", generationHandler.Items)
	generations.Get("/tasks", generationHandler.Tasks)
	generations.Get("/tasks/:taskId", generationHandler.Task)
	generations.Post("/tasks/:taskId/force-complete", generationHandler.ForceComplete)
	generations.Post("/refresh", generationHandler.Refresh)

	return &testApp{app: app, orch: orch, suno: suno, ledger: ledger}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.SignLegacyToken(testUser, testWallet, testJWTSecret)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error envelope.
func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}
