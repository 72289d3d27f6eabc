package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"IdeaRadar/internal/connector"
	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/infrastructure/connectors"
	"IdeaRadar/internal/infrastructure/httpfetch"
	"IdeaRadar/internal/infrastructure/storage"
	"IdeaRadar/internal/scoring"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeConnector struct {
	mu     sync.Mutex
	result connector.Result
	err    error
	reqs   []connector.Request
}

func (f *fakeConnector) Kind() string            { return "stub" }
func (f *fakeConnector) Type() domain.SourceType { return domain.SourceStructuredAPI }

func (f *fakeConnector) Fetch(_ context.Context, req connector.Request) (connector.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return connector.Result{}, f.err
	}
	return f.result, nil
}

type fakeExtractor struct {
	mu    sync.Mutex
	texts map[string]string
	fail  map[string]error
	calls int
	hook  func(url string)
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (domain.Extraction, error) {
	f.mu.Lock()
	f.calls++
	text, ok := f.texts[url]
	failure := f.fail[url]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	if failure != nil {
		return domain.Extraction{}, failure
	}
	if !ok {
		return domain.Extraction{}, &domain.ExtractionError{URL: url, Err: errors.New("no fixture")}
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(strings.Fields(text), " "))))
	return domain.Extraction{
		Domain:      "example.com",
		Text:        text,
		Snippet:     text[:min(len(text), 40)],
		Summary:     text[:min(len(text), 80)],
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

func (f *fakeExtractor) FromBody(url, body string) (domain.Extraction, error) {
	return domain.Extraction{}, errors.New("bodies are not used in these tests")
}

func uniqueText(i int) string {
	words := make([]string, 40)
	for j := range words {
		words[j] = fmt.Sprintf("w%dx%d", i, j)
	}
	return strings.Join(words, " ")
}

type harness struct {
	repo      *storage.MemoryRepository
	conn      *fakeConnector
	extractor *fakeExtractor
	clock     *fakeClock
	pipeline  *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:      storage.NewMemoryRepository(),
		conn:      &fakeConnector{},
		extractor: &fakeExtractor{texts: map[string]string{}, fail: map[string]error{}},
		clock:     newFakeClock(),
	}
	registry := connector.NewRegistry()
	registry.Register(h.conn)
	h.pipeline = NewPipeline(PipelineDeps{
		Repository: h.repo,
		Connectors: registry,
		Extractor:  h.extractor,
		Clock:      h.clock.Now,
	})
	return h
}

func (h *harness) addSource(t *testing.T, name string) domain.Source {
	t.Helper()
	id, err := h.repo.UpsertSource(context.Background(), domain.Source{
		Name:    name,
		Type:    domain.SourceStructuredAPI,
		Config:  json.RawMessage(`{"connector":"stub","weight":0.7}`),
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("add source: %v", err)
	}
	src, err := h.repo.GetSource(context.Background(), id)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	return src
}

func (h *harness) candidates(n int) []domain.Candidate {
	out := make([]domain.Candidate, n)
	for i := range out {
		url := fmt.Sprintf("https://example.com/post/%d?utm_source=feed", i)
		out[i] = domain.Candidate{
			Title:   fmt.Sprintf("Post %d", i),
			URL:     url,
			Signals: map[string]any{"score": i},
			Cursor:  strconv.Itoa(i + 1),
		}
		h.extractor.texts[url] = uniqueText(i)
	}
	return out
}

func testConfig() RunConfig {
	return RunConfig{
		RunID:                "run-1",
		MaxItems:             50,
		MaxConcurrentSources: 4,
		NoveltyWindow:        30 * 24 * time.Hour,
		FingerprintThreshold: 5,
		MaxErrors:            20,
		Scoring:              scoring.Params{Weights: scoring.DefaultWeights(), HalfLife: 24 * time.Hour},
	}
}

func TestRunBatchIsolatesCandidateFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "hn")
	cands := h.candidates(50)
	h.extractor.fail[cands[37].URL] = &domain.ExtractionError{URL: cands[37].URL, Err: errors.New("unparseable page")}
	h.conn.result = connector.Result{Candidates: cands, Next: "50"}

	summary, err := h.pipeline.RunBatch(context.Background(), testConfig(), src)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}

	if summary.Status != domain.BatchOK || summary.Processed != 50 || summary.Inserted != 49 || summary.Errored != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].Index != 37 || summary.Errors[0].Kind != domain.KindExtraction {
		t.Fatalf("failure not recorded: %+v", summary.Errors)
	}

	stored, _ := h.repo.GetSource(context.Background(), src.ID)
	if stored.Cursor != "50" || summary.Cursor != "50" {
		t.Fatalf("cursor not advanced: stored %q summary %q", stored.Cursor, summary.Cursor)
	}
	if len(h.repo.Items()) != 49 {
		t.Fatalf("expected 49 items, got %d", len(h.repo.Items()))
	}
	for _, item := range h.repo.Items() {
		if strings.Contains(item.CanonicalURL, "utm_source") {
			t.Fatalf("item stored with tracking parameters: %s", item.CanonicalURL)
		}
		if item.FinalScore < 0 || item.FinalScore > 1 {
			t.Fatalf("final score out of range: %f", item.FinalScore)
		}
	}
	if h.conn.reqs[0].Limit != 50 || h.conn.reqs[0].Cursor != "" {
		t.Fatalf("unexpected fetch request: %+v", h.conn.reqs[0])
	}
}

func TestRunBatchIdempotentReingestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "feed")
	h.conn.result = connector.Result{Candidates: h.candidates(10), Next: "10"}

	if _, err := h.pipeline.RunBatch(context.Background(), testConfig(), src); err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := h.extractor.calls

	src, _ = h.repo.GetSource(context.Background(), src.ID)
	second, err := h.pipeline.RunBatch(context.Background(), testConfig(), src)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Inserted != 0 || second.Skipped != 10 {
		t.Fatalf("re-ingestion inserted again: %+v", second)
	}
	if h.extractor.calls != callsAfterFirst {
		t.Fatalf("existing items must not be re-extracted")
	}
	if len(h.repo.Items()) != 10 {
		t.Fatalf("expected 10 items, got %d", len(h.repo.Items()))
	}
}

func TestRunBatchFlagsDuplicates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "blogs")
	base := uniqueText(1) + " the end"
	cands := []domain.Candidate{
		{Title: "Original", URL: "https://a.example/post"},
		{Title: "Original", URL: "https://b.example/mirror"},
		{Title: "Original", URL: "https://c.example/reworded"},
	}
	h.extractor.texts[cands[0].URL] = base
	h.extractor.texts[cands[1].URL] = strings.ToUpper(base)
	h.extractor.texts[cands[2].URL] = strings.ReplaceAll(base, " the end", ", the end!")
	h.conn.result = connector.Result{Candidates: cands}

	summary, err := h.pipeline.RunBatch(context.Background(), testConfig(), src)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if summary.Inserted != 1 || summary.Deduped != 2 {
		t.Fatalf("unexpected counts: %+v", summary)
	}

	items := h.repo.Items()
	original := items[0]
	if original.DuplicateOf != nil || original.NoveltyScore != 1 {
		t.Fatalf("first item should be an original with max novelty: %+v", original)
	}

	exact := items[1]
	if exact.DuplicateOf == nil || *exact.DuplicateOf != original.ID || exact.NoveltyScore != 0 {
		t.Fatalf("exact duplicate not flagged: %+v", exact)
	}
	if exact.Fingerprint != nil {
		t.Fatalf("exact duplicates are not fingerprinted")
	}

	near := items[2]
	if near.ContentHash == original.ContentHash {
		t.Fatalf("near duplicate fixture must differ in hash")
	}
	if near.DuplicateOf == nil || *near.DuplicateOf != original.ID {
		t.Fatalf("near duplicate not flagged: %+v", near)
	}
}

func TestRunBatchFetchFailureKeepsCursor(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "down")
	if err := h.repo.SetSourceCursor(context.Background(), src.ID, "7", h.clock.Now()); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	src, _ = h.repo.GetSource(context.Background(), src.ID)
	h.conn.err = &domain.TransientFetchError{URL: "https://down.example", Err: errors.New("connection refused")}

	summary, err := h.pipeline.RunBatch(context.Background(), testConfig(), src)
	if err != nil {
		t.Fatalf("fetch failures must not escape: %v", err)
	}
	if summary.Status != domain.BatchFetchFailed || summary.Error == "" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	stored, _ := h.repo.GetSource(context.Background(), src.ID)
	if stored.Cursor != "7" {
		t.Fatalf("cursor moved after fetch failure: %q", stored.Cursor)
	}
}

type failingRepository struct {
	*storage.MemoryRepository
	failAfter int
	mu        sync.Mutex
	upserts   int
}

func (f *failingRepository) UpsertItem(ctx context.Context, item domain.Item) (int64, error) {
	f.mu.Lock()
	f.upserts++
	n := f.upserts
	f.mu.Unlock()
	if n > f.failAfter {
		return 0, errors.New("database is gone")
	}
	return f.MemoryRepository.UpsertItem(ctx, item)
}

func TestRunBatchStorageFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "hn")
	h.conn.result = connector.Result{Candidates: h.candidates(5), Next: "5"}

	repo := &failingRepository{MemoryRepository: h.repo, failAfter: 2}
	registry := connector.NewRegistry()
	registry.Register(h.conn)
	pipeline := NewPipeline(PipelineDeps{Repository: repo, Connectors: registry, Extractor: h.extractor, Clock: h.clock.Now})

	summary, err := pipeline.RunBatch(context.Background(), testConfig(), src)
	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if summary.Status != domain.BatchStorageError || summary.Inserted != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	stored, _ := h.repo.GetSource(context.Background(), src.ID)
	if stored.Cursor != "" {
		t.Fatalf("cursor advanced despite storage failure: %q", stored.Cursor)
	}
}

func TestRunBatchStopsAtBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "slow")
	h.conn.result = connector.Result{Candidates: h.candidates(20), Next: "20"}
	h.extractor.hook = func(string) { h.clock.Advance(10 * time.Second) }

	cfg := testConfig()
	cfg.BatchBudget = 50 * time.Second
	cfg.CandidateReserve = 5 * time.Second

	summary, err := h.pipeline.RunBatch(context.Background(), cfg, src)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if summary.Status != domain.BatchPartial || summary.StoppedReason != "budget" {
		t.Fatalf("expected budget stop, got %+v", summary)
	}
	if summary.Processed == 0 || summary.Processed >= 20 {
		t.Fatalf("unexpected processed count %d", summary.Processed)
	}
	want := strconv.Itoa(summary.Processed)
	stored, _ := h.repo.GetSource(context.Background(), src.ID)
	if stored.Cursor != want {
		t.Fatalf("cursor %q, want last committed candidate %q", stored.Cursor, want)
	}
}

const sharedTimestampFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Blog</title>
<item><title>D</title><link>https://blog.example.com/d</link><pubDate>Wed, 03 Jan 2024 10:00:00 GMT</pubDate></item>
<item><title>B</title><link>https://blog.example.com/b</link><pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate></item>
<item><title>C</title><link>https://blog.example.com/c</link><pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate></item>
<item><title>A</title><link>https://blog.example.com/a</link><pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate></item>
</channel></rss>`

func TestRunBatchResumesFeedInsideTimestampGroup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sharedTimestampFeed))
	}))
	defer srv.Close()

	h := newHarness(t)
	for i, name := range []string{"a", "b", "c", "d"} {
		h.extractor.texts["https://blog.example.com/"+name] = uniqueText(100 + i)
	}
	h.extractor.hook = func(string) { h.clock.Advance(10 * time.Second) }

	registry := connector.NewRegistry()
	registry.Register(connectors.NewFeedConnector(httpfetch.NewClient(srv.Client(), nil, httpfetch.Options{})))
	pipeline := NewPipeline(PipelineDeps{Repository: h.repo, Connectors: registry, Extractor: h.extractor, Clock: h.clock.Now})

	id, err := h.repo.UpsertSource(context.Background(), domain.Source{
		Name:    "blog",
		Type:    domain.SourceFeed,
		Config:  json.RawMessage(`{"connector":"feed","url":"` + srv.URL + `"}`),
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("add source: %v", err)
	}

	cfg := testConfig()
	cfg.BatchBudget = 25 * time.Second
	cfg.CandidateReserve = 5 * time.Second

	src, _ := h.repo.GetSource(context.Background(), id)
	first, err := pipeline.RunBatch(context.Background(), cfg, src)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if first.StoppedReason != "budget" || first.Processed != 2 {
		t.Fatalf("expected a budget stop after A and B, got %+v", first)
	}

	src, _ = h.repo.GetSource(context.Background(), id)
	second, err := pipeline.RunBatch(context.Background(), cfg, src)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if second.Status != domain.BatchOK || second.Fetched != 2 || second.Inserted != 2 {
		t.Fatalf("entries sharing B's timestamp were not resumed: %+v", second)
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		item, err := h.repo.FindByCanonicalURL(context.Background(), "https://blog.example.com/"+name)
		if err != nil || item == nil {
			t.Fatalf("item %s missing after resume: %v", name, err)
		}
	}
}

func TestRunBatchCooperativeCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "cancel")
	cands := h.candidates(6)
	h.conn.result = connector.Result{Candidates: cands, Next: "6"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.extractor.hook = func(url string) {
		if url == cands[2].URL {
			cancel()
		}
	}

	summary, err := h.pipeline.RunBatch(ctx, testConfig(), src)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if summary.StoppedReason != "canceled" || summary.Processed != 3 || summary.Inserted != 3 {
		t.Fatalf("in-flight candidate should complete before stopping: %+v", summary)
	}
	stored, _ := h.repo.GetSource(context.Background(), src.ID)
	if stored.Cursor != "3" {
		t.Fatalf("cursor %q, want 3", stored.Cursor)
	}
}

func TestRunAllIsolatesSources(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.addSource(t, "first")
	h.addSource(t, "second")
	if _, err := h.repo.UpsertSource(context.Background(), domain.Source{
		Name: "broken", Type: domain.SourceStructuredAPI, Config: json.RawMessage(`{"connector":"nope"}`), Enabled: true,
	}); err != nil {
		t.Fatalf("add broken source: %v", err)
	}
	if _, err := h.repo.UpsertSource(context.Background(), domain.Source{
		Name: "off", Type: domain.SourceStructuredAPI, Config: json.RawMessage(`{"connector":"stub"}`), Enabled: false,
	}); err != nil {
		t.Fatalf("add disabled source: %v", err)
	}

	shared := "https://shared.example/article"
	h.extractor.texts[shared] = uniqueText(99)
	h.conn.result = connector.Result{Candidates: []domain.Candidate{{Title: "Shared", URL: shared}}}

	run, err := h.pipeline.RunAll(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if len(run.Sources) != 3 {
		t.Fatalf("expected 3 enabled sources, got %d", len(run.Sources))
	}

	statuses := map[string]domain.BatchStatus{}
	for _, s := range run.Sources {
		statuses[s.SourceName] = s.Status
	}
	if statuses["broken"] != domain.BatchConfigError || statuses["first"] != domain.BatchOK || statuses["second"] != domain.BatchOK {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
	if run.Totals.Failed != 1 {
		t.Fatalf("expected one failed source, got %+v", run.Totals)
	}
	if n := len(h.repo.Items()); n != 1 {
		t.Fatalf("shared url must produce exactly one item, got %d", n)
	}
}

func TestRunBatchDisabledSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "off")
	src.Enabled = false

	summary, err := h.pipeline.RunBatch(context.Background(), testConfig(), src)
	if err != nil || summary.Status != domain.BatchDisabled {
		t.Fatalf("expected disabled no-op, got %+v %v", summary, err)
	}
	if len(h.conn.reqs) != 0 {
		t.Fatalf("disabled source must not be fetched")
	}
}

func TestRunBatchForceRescore(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "hn")
	h.conn.result = connector.Result{Candidates: h.candidates(3)}

	if _, err := h.pipeline.RunBatch(context.Background(), testConfig(), src); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := h.repo.Items()

	h.clock.Advance(48 * time.Hour)
	cfg := testConfig()
	cfg.ForceRescore = true
	summary, err := h.pipeline.RunBatch(context.Background(), cfg, src)
	if err != nil {
		t.Fatalf("rescore run: %v", err)
	}
	if summary.Updated != 3 || summary.Inserted != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	after := h.repo.Items()
	for i := range after {
		if after[i].ID != before[i].ID || after[i].DuplicateOf != nil {
			t.Fatalf("identity changed on rescore: %+v", after[i])
		}
		if after[i].RecencyScore >= before[i].RecencyScore {
			t.Fatalf("recency should decay after 48h: %f >= %f", after[i].RecencyScore, before[i].RecencyScore)
		}
	}
}

func TestRunBatchBoundsErrorList(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "flaky")
	cands := h.candidates(8)
	for _, c := range cands {
		h.extractor.fail[c.URL] = &domain.TransientFetchError{URL: c.URL, Err: errors.New("timeout")}
	}
	h.conn.result = connector.Result{Candidates: cands}

	cfg := testConfig()
	cfg.MaxErrors = 3
	summary, err := h.pipeline.RunBatch(context.Background(), cfg, src)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if summary.Errored != 8 || len(summary.Errors) != 3 {
		t.Fatalf("unexpected error accounting: errored %d, listed %d", summary.Errored, len(summary.Errors))
	}
	if summary.Errors[0].Kind != domain.KindTransientFetch {
		t.Fatalf("unexpected kind %s", summary.Errors[0].Kind)
	}
}

type stalledPublisher struct {
	mu    sync.Mutex
	calls int
}

func (s *stalledPublisher) Publish(ctx context.Context, _ domain.Item) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func TestRunBatchBoundsStalledPublisher(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := h.addSource(t, "hn")
	h.conn.result = connector.Result{Candidates: h.candidates(3), Next: "3"}

	publisher := &stalledPublisher{}
	registry := connector.NewRegistry()
	registry.Register(h.conn)
	pipeline := NewPipeline(PipelineDeps{
		Repository:     h.repo,
		Connectors:     registry,
		Extractor:      h.extractor,
		Publisher:      publisher,
		Clock:          h.clock.Now,
		PublishTimeout: 20 * time.Millisecond,
	})

	done := make(chan domain.BatchSummary, 1)
	go func() {
		summary, err := pipeline.RunBatch(context.Background(), testConfig(), src)
		if err != nil {
			t.Errorf("run batch: %v", err)
		}
		done <- summary
	}()

	select {
	case summary := <-done:
		if summary.Status != domain.BatchOK || summary.Inserted != 3 || summary.Errored != 0 {
			t.Fatalf("publish failures must not fail candidates: %+v", summary)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("batch blocked on a stalled publisher")
	}
	if publisher.calls != 3 {
		t.Fatalf("publish calls = %d, want 3", publisher.calls)
	}
}
