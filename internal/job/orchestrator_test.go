package job

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"pdf-translator/internal/extract"
	"pdf-translator/internal/ledger"
	"pdf-translator/internal/translate"
	"pdf-translator/internal/types"
)

type fakeArtifacts struct {
	mu      sync.Mutex
	uploads map[string][]byte
	outputs map[string][]byte
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{uploads: map[string][]byte{}, outputs: map[string][]byte{}}
}

func (f *fakeArtifacts) UploadPath(jobID string) string { return "mem://" + jobID }

func (f *fakeArtifacts) SaveUpload(jobID string, r io.Reader, maxBytes int64) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	f.mu.Lock()
	f.uploads[jobID] = data
	f.mu.Unlock()
	return f.UploadPath(jobID), int64(len(data)), nil
}

func (f *fakeArtifacts) SaveOutput(jobID string, data []byte) (string, error) {
	f.mu.Lock()
	f.outputs[jobID] = data
	f.mu.Unlock()
	return "out://" + jobID, nil
}

func (f *fakeArtifacts) Remove(jobID string) error {
	f.mu.Lock()
	delete(f.uploads, jobID)
	delete(f.outputs, jobID)
	f.mu.Unlock()
	return nil
}

type fakeExtractor struct {
	pages      int
	texts      []string
	ocrPages   []int // page numbers classified as needing OCR
	inspectErr error
	extractErr error
}

func (f *fakeExtractor) Inspect(path string) (*extract.Document, error) {
	if f.inspectErr != nil {
		return nil, f.inspectErr
	}
	doc := &extract.Document{Path: path, PageCount: f.pages}
	for i := 1; i <= f.pages; i++ {
		doc.Pages = append(doc.Pages, &extract.Page{Number: i, Width: 595, Height: 842})
	}
	return doc, nil
}

func (f *fakeExtractor) ExtractText(doc *extract.Document) error {
	if f.extractErr != nil {
		return f.extractErr
	}
	for i, text := range f.texts {
		if i < len(doc.Pages) {
			doc.Pages[i].Blocks = []*extract.Block{
				{ID: "b", Page: i + 1, Text: text, Source: extract.SourceText},
			}
		}
	}
	for _, n := range f.ocrPages {
		doc.Pages[n-1].NeedsOCR = true
		doc.Pages[n-1].Blocks = nil
	}
	return nil
}

type fakeOCR struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeOCR) RecognizePage(ctx context.Context, page *extract.Page, pdfPath, lang string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	page.Blocks = []*extract.Block{
		{ID: "ocr", Page: page.Number, Text: "ocr metni", Source: extract.SourceOCR, Confidence: 0.9},
	}
	return nil
}

type fakeTranslator struct {
	err error
}

func (f *fakeTranslator) TranslateBlocks(ctx context.Context, blocks []*extract.Block, pair types.LangPair) (translate.Stats, error) {
	if f.err != nil {
		return translate.Stats{}, f.err
	}
	stats := translate.Stats{Total: len(blocks), Succeeded: len(blocks)}
	for _, b := range blocks {
		b.Translated = "T:" + b.Text
	}
	return stats, nil
}

type fakeReconstructor struct {
	err     error
	clipped int
}

func (f *fakeReconstructor) Build(doc *extract.Document) ([]byte, BuildResult, error) {
	if f.err != nil {
		return nil, BuildResult{}, f.err
	}
	return []byte("%PDF out"), BuildResult{ClippedBlocks: f.clipped}, nil
}

type testEnv struct {
	orch      *Orchestrator
	store     *Store
	ledger    *ledger.Ledger
	artifacts *fakeArtifacts
}

func newTestEnv(t *testing.T, cfg OrchestratorConfig) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	led, err := ledger.NewLedger(db)
	if err != nil {
		t.Fatal(err)
	}
	artifacts := newFakeArtifacts()

	cfg.Store = store
	cfg.Ledger = led
	cfg.Artifacts = artifacts
	if cfg.Extractor == nil {
		cfg.Extractor = &fakeExtractor{pages: 2, texts: []string{"bir", "iki"}}
	}
	if cfg.Translator == nil {
		cfg.Translator = &fakeTranslator{}
	}
	if cfg.Reconstructor == nil {
		cfg.Reconstructor = &fakeReconstructor{}
	}

	return &testEnv{
		orch:      NewOrchestrator(cfg),
		store:     store,
		ledger:    led,
		artifacts: artifacts,
	}
}

func acceptJob(t *testing.T, env *testEnv) *Job {
	t.Helper()
	j, err := env.orch.Accept(context.Background(), "u1", "tr", "en", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return j
}

func TestPipelineHappyPath(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)

	got, err := env.store.Get(j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, error = %s: %s", got.Status, got.ErrorCode, got.ErrorMessage)
	}
	if got.PageCount != 2 || got.Cost != 2 {
		t.Errorf("pages/cost = %d/%d", got.PageCount, got.Cost)
	}
	if bal, _ := env.ledger.Balance("u1"); bal != 8 {
		t.Errorf("balance = %d, want 8", bal)
	}
	// Completion captures the reservation, nothing stays held.
	if res, _ := env.ledger.Reserved("u1"); res != 0 {
		t.Errorf("reserved = %d, want 0 after completion", res)
	}
	if env.artifacts.outputs[j.ID] == nil {
		t.Error("output not saved")
	}
}

func TestAcceptRejectsUnknownPair(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{})
	env.ledger.Grant("u1", 10)

	_, err := env.orch.Accept(context.Background(), "u1", "de", "en", strings.NewReader("%PDF"))
	if types.CodeOf(err) != types.ErrUnsupportedDocument {
		t.Errorf("code = %v", types.CodeOf(err))
	}
}

func TestAcceptRejectsWithoutCredits(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{})

	_, err := env.orch.Accept(context.Background(), "broke", "tr", "en", strings.NewReader("%PDF"))
	if types.CodeOf(err) != types.ErrInsufficientCredits {
		t.Errorf("code = %v", types.CodeOf(err))
	}
}

func TestValidationFailureNeverDebits(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{
		Extractor: &fakeExtractor{inspectErr: types.NewAppError(types.ErrUnsupportedDocument, "encrypted", nil)},
	})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)

	got, _ := env.store.Get(j.ID)
	if got.Status != StatusFailed || got.ErrorCode != "UNSUPPORTED_DOCUMENT" {
		t.Errorf("job = %+v", got)
	}
	if bal, _ := env.ledger.Balance("u1"); bal != 10 {
		t.Errorf("balance = %d, validation failure must not charge", bal)
	}
	if env.artifacts.uploads[j.ID] != nil {
		t.Error("failed job upload not cleaned up")
	}
}

func TestTranslationFailureRefunds(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{
		Translator: &fakeTranslator{err: types.NewAppError(types.ErrTranslationFailed, "all failed", nil)},
	})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)

	got, _ := env.store.Get(j.ID)
	if got.Status != StatusFailed || got.ErrorCode != "TRANSLATION_FAILED" {
		t.Errorf("job = %+v", got)
	}
	if bal, _ := env.ledger.Balance("u1"); bal != 10 {
		t.Errorf("balance = %d, want full refund", bal)
	}
	if res, _ := env.ledger.Reserved("u1"); res != 0 {
		t.Errorf("reserved = %d, want 0 after refund", res)
	}
}

func TestReprocessDoesNotDoubleDebit(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)
	env.orch.process(context.Background(), j.ID) // replay is a no-op on a terminal job

	if bal, _ := env.ledger.Balance("u1"); bal != 8 {
		t.Errorf("balance = %d, want 8 after replay", bal)
	}
}

func TestOCRFailureIsWarningNotFatal(t *testing.T) {
	ocr := &fakeOCR{err: types.NewAppError(types.ErrOCRFailed, "blank page", nil)}
	env := newTestEnv(t, OrchestratorConfig{
		Extractor: &fakeExtractor{pages: 2, texts: []string{"metin"}, ocrPages: []int{2}},
		OCR:       ocr,
	})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)

	got, _ := env.store.Get(j.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.OCRWarnings != 1 {
		t.Errorf("OCRWarnings = %d, want 1", got.OCRWarnings)
	}
	if ocr.calls != 1 {
		t.Errorf("ocr calls = %d", ocr.calls)
	}
}

func TestOCRProviderErrorFailsJob(t *testing.T) {
	// A dead API key is not a page problem. It must fail the job and
	// refund, not degrade every scanned page to a warning.
	env := newTestEnv(t, OrchestratorConfig{
		Extractor: &fakeExtractor{pages: 2, texts: []string{"metin"}, ocrPages: []int{2}},
		OCR:       &fakeOCR{err: types.NewAppError(types.ErrProvider, "invalid api key", nil)},
	})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)

	got, _ := env.store.Get(j.ID)
	if got.Status != StatusFailed || got.ErrorCode != "PROVIDER_ERROR" {
		t.Errorf("job = %+v", got)
	}
	if bal, _ := env.ledger.Balance("u1"); bal != 10 {
		t.Errorf("balance = %d, want refund", bal)
	}
}

func TestPipelineRecordsPages(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{
		Extractor: &fakeExtractor{pages: 3, texts: []string{"bir", "iki"}, ocrPages: []int{2, 3}},
		OCR:       &fakeOCR{err: types.NewAppError(types.ErrOCRFailed, "blank", nil)},
	})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)

	pages, err := env.store.Pages(j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 3 {
		t.Fatalf("pages = %d", len(pages))
	}
	if pages[0].Mode != PageModeText || pages[0].Status != PageStatusOK {
		t.Errorf("page 1 = %+v", pages[0])
	}
	for _, p := range pages[1:] {
		if p.Mode != PageModeOCR || p.Status != PageStatusOCRFailed {
			t.Errorf("page %d = %+v", p.Number, p)
		}
	}
}

func TestAllPagesUnreadableFails(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{
		Extractor: &fakeExtractor{pages: 1, ocrPages: []int{1}},
		OCR:       &fakeOCR{err: types.NewAppError(types.ErrOCRFailed, "blank", nil)},
	})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)

	got, _ := env.store.Get(j.ID)
	if got.Status != StatusFailed || got.ErrorCode != "OCR_FAILED" {
		t.Errorf("job = %+v", got)
	}
	if bal, _ := env.ledger.Balance("u1"); bal != 10 {
		t.Errorf("balance = %d, want refund", bal)
	}
}

func TestEnqueueSingleFlight(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{})
	if !env.orch.Enqueue("j1") {
		t.Fatal("first enqueue failed")
	}
	if env.orch.Enqueue("j1") {
		t.Error("duplicate enqueue accepted")
	}
}

func TestLookupExpiresLazily(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{Retention: time.Hour})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)

	// The job completed moments ago, but its creation-time expiry has
	// passed. The expiry clock runs from creation, not completion.
	if _, err := env.store.db.Exec(`UPDATE jobs SET expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Minute), j.ID); err != nil {
		t.Fatal(err)
	}

	got, err := env.orch.Lookup(j.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
	if env.artifacts.outputs[j.ID] != nil {
		t.Error("expired output not removed")
	}
}

func TestSweepExpired(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{Retention: time.Hour})
	env.ledger.Grant("u1", 10)

	j := acceptJob(t, env)
	env.orch.process(context.Background(), j.ID)
	if _, err := env.store.db.Exec(`UPDATE jobs SET expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Minute), j.ID); err != nil {
		t.Fatal(err)
	}

	n, err := env.orch.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d", n)
	}
	got, _ := env.store.Get(j.ID)
	if got.Status != StatusExpired {
		t.Errorf("status = %s", got.Status)
	}
}

func TestResumeRequeuesActiveJobs(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{})
	env.ledger.Grant("u1", 10)
	j := acceptJob(t, env)

	// Simulate a restart: drain the queue, clear the single-flight set.
	env.orch.mu.Lock()
	env.orch.inflight = map[string]struct{}{}
	env.orch.mu.Unlock()
	for len(env.orch.queue) > 0 {
		<-env.orch.queue
	}

	if err := env.orch.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	select {
	case id := <-env.orch.queue:
		if id != j.ID {
			t.Errorf("requeued %q", id)
		}
	default:
		t.Error("active job not requeued")
	}
}

func TestWorkerPoolProcessesJobs(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{Workers: 2})
	env.ledger.Grant("u1", 10)

	ctx, cancel := context.WithCancel(context.Background())
	env.orch.Start(ctx)

	j := acceptJob(t, env)

	deadline := time.After(5 * time.Second)
	for {
		got, err := env.store.Get(j.ID)
		if err == nil && got.Status.Terminal() {
			if got.Status != StatusCompleted {
				t.Fatalf("status = %s: %s", got.Status, got.ErrorMessage)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("job did not finish in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	env.orch.Wait()
}

func TestCancelledContextLeavesJobResumable(t *testing.T) {
	env := newTestEnv(t, OrchestratorConfig{})
	env.ledger.Grant("u1", 10)
	j := acceptJob(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.orch.process(ctx, j.ID)

	got, _ := env.store.Get(j.ID)
	if got.Status.Terminal() {
		t.Errorf("cancelled job must stay resumable, status = %s", got.Status)
	}
	if errors.Is(ctx.Err(), context.Canceled) && got.Status == StatusFailed {
		t.Error("cancellation must not fail the job")
	}
}
