package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/cache"
	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/notify"
)

// fakeGenerator hands out task ids in order and answers polls from a table.
type fakeGenerator struct {
	mu          sync.Mutex
	nextIDs     []string
	generateErr error
	statuses    map[string]*client.StatusResult
	pollErrs    map[string]error
	generated   int
	polls       map[string]int
}

func newFakeGenerator(ids ...string) *fakeGenerator {
	return &fakeGenerator{
		nextIDs:  ids,
		statuses: make(map[string]*client.StatusResult),
		pollErrs: make(map[string]error),
		polls:    make(map[string]int),
	}
}

func (g *fakeGenerator) GenerateMusic(ctx context.Context, req *client.GenerateMusicRequest) (*client.GenerateMusicResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generateErr != nil {
		return nil, g.generateErr
	}
	if len(g.nextIDs) == 0 {
		return nil, fmt.Errorf("%w: no task ids left", model.ErrServiceUnavailable)
	}
	id := g.nextIDs[0]
	g.nextIDs = g.nextIDs[1:]
	g.generated++
	return &client.GenerateMusicResponse{TaskID: id}, nil
}

func (g *fakeGenerator) GetMusicStatus(ctx context.Context, taskID string) (*client.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls[taskID]++
	if err := g.pollErrs[taskID]; err != nil {
		return nil, err
	}
	res, ok := g.statuses[taskID]
	if !ok {
		return &client.StatusResult{TaskID: taskID, Status: model.ServiceStatusPending}, nil
	}
	cp := *res
	cp.Items = append([]client.ItemResult(nil), res.Items...)
	return &cp, nil
}

func (g *fakeGenerator) setStatus(taskID string, status model.ServiceStatus, items ...client.ItemResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[taskID] = &client.StatusResult{TaskID: taskID, Status: status, Items: items}
}

func (g *fakeGenerator) setPollErr(taskID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.pollErrs, taskID)
		return
	}
	g.pollErrs[taskID] = err
}

func (g *fakeGenerator) pollCount(taskID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls[taskID]
}

// fakeLedger records broadcasts and serves per-user task lists.
type fakeLedger struct {
	mu            sync.Mutex
	fee           string
	feeErr        error
	broadcastErr  error
	receiptStatus string
	hangReceipts  bool
	listErr       error
	broadcasts    []string
	all           map[string][]string
	completed     map[string][]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		fee:           "1000",
		receiptStatus: client.ReceiptConfirmed,
		all:           make(map[string][]string),
		completed:     make(map[string][]string),
	}
}

func (l *fakeLedger) GetGenerationFee(ctx context.Context, mode model.Mode) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fee, l.feeErr
}

func (l *fakeLedger) BroadcastGenerationRequest(ctx context.Context, user, taskID string, params *model.RequestParams, fee string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broadcastErr != nil {
		return "", l.broadcastErr
	}
	l.broadcasts = append(l.broadcasts, taskID)
	return "0xtx-" + taskID, nil
}

func (l *fakeLedger) WaitForReceipt(ctx context.Context, txHash string) (*client.Receipt, error) {
	l.mu.Lock()
	hang, status := l.hangReceipts, l.receiptStatus
	l.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &client.Receipt{TxHash: txHash, Status: status, BlockNumber: 1}, nil
}

func (l *fakeLedger) GetAllTaskIDs(ctx context.Context, user string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}
	return append([]string(nil), l.all[user]...), nil
}

func (l *fakeLedger) GetCompletedTaskIDs(ctx context.Context, user string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}
	return append([]string(nil), l.completed[user]...), nil
}

func (l *fakeLedger) setLists(user string, all, completed []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all[user] = all
	l.completed[user] = completed
}

func (l *fakeLedger) broadcastCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.broadcasts)
}

// fakeNotifier collects everything the orchestrator surfaces.
type fakeNotifier struct {
	mu      sync.Mutex
	notes   []model.Notification
	updates []model.GenerationTask
}

func (n *fakeNotifier) Notify(user string, note model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *fakeNotifier) TaskUpdated(user string, task model.GenerationTask) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, task)
}

func (n *fakeNotifier) count(taskID string, kind model.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, note := range n.notes {
		if note.TaskID == taskID && note.Kind == kind {
			c++
		}
	}
	return c
}

// fakeStorage is a StorageClient that can be told to fail.
type fakeStorage struct {
	mu      sync.Mutex
	fail    bool
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStorage) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeStorage) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, errors.New("connection refused")
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

// fakeRetrier records re-upload requests.
type fakeRetrier struct {
	mu    sync.Mutex
	metas []client.ArtifactMetadata
}

func (r *fakeRetrier) EnqueueArtifactUpload(ctx context.Context, user string, meta client.ArtifactMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metas = append(r.metas, meta)
	return nil
}

func (r *fakeRetrier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.metas)
}

// lockedBuffer lets the logger be written from many goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) count(msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), `"message":"`+msg+`"`)
}

// brokenBackend fails every cache operation.
type brokenBackend struct{}

func (brokenBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("quota exceeded")
}

func (brokenBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("quota exceeded")
}

func (brokenBackend) Del(context.Context, string) error {
	return errors.New("quota exceeded")
}

type harness struct {
	orch     *Orchestrator
	gen      *fakeGenerator
	ledger   *fakeLedger
	notifier *fakeNotifier
	storage  *fakeStorage
	retrier  *fakeRetrier
	backend  *cache.MemoryBackend
	store    *cache.Store
	dedup    *notify.Deduper
	logs     *lockedBuffer
}

func testConfig() Config {
	return Config{
		PollInterval:          10 * time.Millisecond,
		PollTimeout:           time.Second,
		MaxBackoff:            80 * time.Millisecond,
		LedgerRefreshInterval: 20 * time.Millisecond,
		UploadTimeout:         time.Second,
		ReceiptTimeout:        time.Second,
	}
}

func newHarness(t *testing.T, cfg Config, ids ...string) *harness {
	t.Helper()
	backend := cache.NewMemoryBackend()
	h := newHarnessWithBackend(t, cfg, backend, ids...)
	h.backend = backend
	return h
}

// newHarnessWithBackend builds a harness whose item cache sits on backend.
func newHarnessWithBackend(t *testing.T, cfg Config, backend cache.Backend, ids ...string) *harness {
	t.Helper()

	h := &harness{
		gen:      newFakeGenerator(ids...),
		ledger:   newFakeLedger(),
		notifier: &fakeNotifier{},
		storage:  newFakeStorage(),
		retrier:  &fakeRetrier{},
		dedup:    notify.NewDeduper(),
		logs:     &lockedBuffer{},
	}
	h.store = cache.NewStore(backend, "test-items", cache.DefaultTTL)

	logger := zerolog.New(h.logs).Level(zerolog.DebugLevel)
	h.orch = New(cfg, Deps{
		Generator: h.gen,
		Ledger:    h.ledger,
		Artifacts: client.NewArtifactStore(h.storage, &logger),
		Cache:     h.store,
		Dedup:     h.dedup,
		Notifier:  h.notifier,
		Retrier:   h.retrier,
		Logger:    &logger,
	})
	t.Cleanup(h.orch.Shutdown)
	return h
}

func (h *harness) connect(t *testing.T, user string) *Session {
	t.Helper()
	s, err := h.orch.Connect(context.Background(), user)
	if err != nil {
		t.Fatalf("connect %s: %v", user, err)
	}
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func taskState(s *Session, taskID string) model.TaskState {
	task, err := s.Task(taskID)
	if err != nil {
		return ""
	}
	return task.State
}

func track(id, url string) client.ItemResult {
	return client.ItemResult{
		ID:       id,
		Title:    "Track " + id,
		AudioURL: url,
		Duration: 120,
		Tags:     []string{"lofi", "chill"},
	}
}

func simpleParams(prompt string) *model.RequestParams {
	return &model.RequestParams{Prompt: prompt, Mode: model.ModeSimple}
}

// seedAwaitingTask puts a task straight into AwaitingServiceCompletion.
func seedAwaitingTask(s *Session, taskID string) {
	s.mu.Lock()
	s.tasks[taskID] = &model.GenerationTask{
		TaskID:        taskID,
		UserID:        s.user,
		ChainStatus:   model.ChainStatusConfirmed,
		ServiceStatus: model.ServiceStatusUnknown,
		State:         model.TaskStateAwaitingServiceCompletion,
		CreatedAt:     time.Now(),
	}
	s.local[taskID] = struct{}{}
	s.mu.Unlock()
	s.orch.indexTask(taskID, s.user)
}
