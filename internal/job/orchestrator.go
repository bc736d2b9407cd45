package job

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pdf-translator/internal/extract"
	"pdf-translator/internal/ledger"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/translate"
	"pdf-translator/internal/types"
)

// DocumentExtractor validates a PDF and extracts its text layer.
type DocumentExtractor interface {
	Inspect(path string) (*extract.Document, error)
	ExtractText(doc *extract.Document) error
}

// OCRInvoker recognizes text on a page without a usable text layer.
type OCRInvoker interface {
	RecognizePage(ctx context.Context, page *extract.Page, pdfPath, lang string) error
}

// Translator translates blocks in place.
type Translator interface {
	TranslateBlocks(ctx context.Context, blocks []*extract.Block, pair types.LangPair) (translate.Stats, error)
}

// BuildResult carries the reconstruction outcome counters.
type BuildResult struct {
	ClippedBlocks int
}

// Reconstructor assembles the translated PDF.
type Reconstructor interface {
	Build(doc *extract.Document) ([]byte, BuildResult, error)
}

// ArtifactStore persists per-job files.
type ArtifactStore interface {
	UploadPath(jobID string) string
	SaveUpload(jobID string, r io.Reader, maxBytes int64) (string, int64, error)
	Remove(jobID string) error
	SaveOutput(jobID string, data []byte) (string, error)
}

// OrchestratorConfig wires the pipeline stages.
type OrchestratorConfig struct {
	Store         *Store
	Ledger        *ledger.Ledger
	Artifacts     ArtifactStore
	Extractor     DocumentExtractor
	OCR           OCRInvoker // nil disables the OCR fallback
	Translator    Translator
	Reconstructor Reconstructor

	Workers        int
	QueueSize      int
	OCRConcurrency int
	CostPerPage    int64
	Retention      time.Duration
	MaxUploadBytes int64
}

// Orchestrator owns the job queue and drives accepted jobs through
// validation, extraction, translation and reconstruction.
type Orchestrator struct {
	store         *Store
	ledger        *ledger.Ledger
	artifacts     ArtifactStore
	extractor     DocumentExtractor
	ocr           OCRInvoker
	translator    Translator
	reconstructor Reconstructor

	workers        int
	ocrConcurrency int
	costPerPage    int64
	retention      time.Duration
	maxUploadBytes int64

	queue    chan string
	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator, applying defaults.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 128
	}
	ocrConcurrency := cfg.OCRConcurrency
	if ocrConcurrency <= 0 {
		ocrConcurrency = 3
	}
	costPerPage := cfg.CostPerPage
	if costPerPage <= 0 {
		costPerPage = 1
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Orchestrator{
		store:          cfg.Store,
		ledger:         cfg.Ledger,
		artifacts:      cfg.Artifacts,
		extractor:      cfg.Extractor,
		ocr:            cfg.OCR,
		translator:     cfg.Translator,
		reconstructor:  cfg.Reconstructor,
		workers:        workers,
		ocrConcurrency: ocrConcurrency,
		costPerPage:    costPerPage,
		retention:      retention,
		maxUploadBytes: cfg.MaxUploadBytes,
		queue:          make(chan string, queueSize),
		inflight:       make(map[string]struct{}),
	}
}

// Accept validates the request shape, stores the upload and enqueues the
// job. The user must have at least one credit; the actual page-based debit
// happens after validation, when the page count is known.
func (o *Orchestrator) Accept(ctx context.Context, userID, sourceLang, targetLang string, r io.Reader) (*Job, error) {
	pair, err := types.ParseLangPair(sourceLang, targetLang)
	if err != nil {
		return nil, err
	}

	balance, err := o.ledger.Balance(userID)
	if err != nil {
		return nil, err
	}
	if balance < o.costPerPage {
		return nil, types.NewAppError(types.ErrInsufficientCredits, "insufficient credits", nil)
	}

	j := &Job{
		ID:         uuid.NewString(),
		UserID:     userID,
		SourceLang: pair.Source,
		TargetLang: pair.Target,
		ExpiresAt:  time.Now().UTC().Add(o.retention),
	}

	if _, _, err := o.artifacts.SaveUpload(j.ID, r, o.maxUploadBytes); err != nil {
		return nil, err
	}
	if err := o.store.Create(j); err != nil {
		o.artifacts.Remove(j.ID)
		return nil, err
	}

	o.Enqueue(j.ID)
	logger.Info("job accepted",
		logger.String("jobID", j.ID),
		logger.String("userID", userID),
		logger.String("pair", pair.Source+"->"+pair.Target))
	return j, nil
}

// Enqueue schedules a job for processing. Jobs already queued or running
// are skipped so concurrent lookups and resume scans cannot double-run a
// job.
func (o *Orchestrator) Enqueue(jobID string) bool {
	o.mu.Lock()
	if _, busy := o.inflight[jobID]; busy {
		o.mu.Unlock()
		return false
	}
	o.inflight[jobID] = struct{}{}
	o.mu.Unlock()

	select {
	case o.queue <- jobID:
		return true
	default:
		o.mu.Lock()
		delete(o.inflight, jobID)
		o.mu.Unlock()
		logger.Warn("job queue full", logger.String("jobID", jobID))
		return false
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-o.queue:
					o.process(ctx, id)
					o.mu.Lock()
					delete(o.inflight, id)
					o.mu.Unlock()
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Resume re-queues jobs that were mid-pipeline when the process last
// stopped. Finished blocks are served from the translation cache, so a
// resumed job does not pay for work already done.
func (o *Orchestrator) Resume() error {
	ids, err := o.store.ListActive()
	if err != nil {
		return err
	}
	for _, id := range ids {
		o.Enqueue(id)
	}
	if len(ids) > 0 {
		logger.Info("resumed unfinished jobs", logger.Int("count", len(ids)))
	}
	return nil
}

// statusRank orders pipeline states for resume decisions.
var statusRank = map[Status]int{
	StatusCreated:        0,
	StatusValidating:     1,
	StatusExtracting:     2,
	StatusTranslating:    3,
	StatusReconstructing: 4,
	StatusCompleted:      5,
	StatusFailed:         5,
	StatusExpired:        5,
}

// advance transitions the job to target unless it is already at or past
// it, which happens when a restarted job re-runs earlier stages.
func (o *Orchestrator) advance(jobID string, target Status) error {
	j, err := o.store.Get(jobID)
	if err != nil {
		return err
	}
	if statusRank[j.Status] >= statusRank[target] {
		return nil
	}
	return o.store.Transition(jobID, target)
}

// process runs the pipeline for one job. Context cancellation between
// stages leaves the job in its current state for the next Resume.
func (o *Orchestrator) process(ctx context.Context, jobID string) {
	j, err := o.store.Get(jobID)
	if err != nil {
		logger.Error("cannot load queued job", err, logger.String("jobID", jobID))
		return
	}
	if j.Status.Terminal() {
		return
	}

	pair := types.LangPair{Source: j.SourceLang, Target: j.TargetLang}
	pdfPath := o.artifacts.UploadPath(jobID)

	// Validation.
	if err := o.advance(jobID, StatusValidating); err != nil {
		o.fail(j, err)
		return
	}
	doc, err := o.extractor.Inspect(pdfPath)
	if err != nil {
		o.fail(j, err)
		return
	}
	cost := int64(doc.PageCount) * o.costPerPage
	if err := o.store.SetPageCountAndCost(jobID, doc.PageCount, cost); err != nil {
		o.fail(j, err)
		return
	}

	// Debit and the move into Extracting commit together: a crash between
	// them can never charge without advancing nor advance without charging.
	cur, err := o.store.Get(jobID)
	if err != nil {
		o.fail(j, err)
		return
	}
	if statusRank[cur.Status] < statusRank[StatusExtracting] {
		tx, err := o.store.DB().Begin()
		if err != nil {
			o.fail(j, types.NewAppError(types.ErrStorage, "failed to begin debit", err))
			return
		}
		if err := o.ledger.DebitTx(tx, j.UserID, jobID, cost); err != nil {
			tx.Rollback()
			o.fail(j, err)
			return
		}
		if err := o.store.TransitionTx(tx, jobID, StatusExtracting); err != nil {
			tx.Rollback()
			o.fail(j, err)
			return
		}
		if err := tx.Commit(); err != nil {
			o.fail(j, types.NewAppError(types.ErrStorage, "failed to commit debit", err))
			return
		}
	} else {
		// Resumed past Extracting: the debit is idempotent, replay is free.
		if err := o.ledger.Debit(j.UserID, jobID, cost); err != nil {
			o.fail(j, err)
			return
		}
	}

	if ctx.Err() != nil {
		return
	}

	// Extraction and OCR fallback.
	if err := o.extractor.ExtractText(doc); err != nil {
		o.fail(j, err)
		return
	}
	ocrWarnings, failedPages, err := o.runOCR(ctx, doc, pdfPath, pair.Source)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(j, err)
		return
	}
	o.recordPages(jobID, doc, failedPages)
	if len(doc.Blocks()) == 0 {
		o.fail(j, types.NewAppError(types.ErrOCRFailed, "no text recovered from document", nil))
		return
	}

	if ctx.Err() != nil {
		return
	}

	// Translation.
	if err := o.advance(jobID, StatusTranslating); err != nil {
		o.fail(j, err)
		return
	}
	stats, err := o.translator.TranslateBlocks(ctx, doc.Blocks(), pair)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(j, err)
		return
	}

	if ctx.Err() != nil {
		return
	}

	// Reconstruction.
	if err := o.advance(jobID, StatusReconstructing); err != nil {
		o.fail(j, err)
		return
	}
	out, buildRes, err := o.reconstructor.Build(doc)
	if err != nil {
		o.fail(j, err)
		return
	}
	if _, err := o.artifacts.SaveOutput(jobID, out); err != nil {
		o.fail(j, err)
		return
	}

	if err := o.store.SetWarnings(jobID, ocrWarnings, stats.Degraded, buildRes.ClippedBlocks); err != nil {
		o.fail(j, err)
		return
	}
	if err := o.complete(j); err != nil {
		o.fail(j, err)
		return
	}

	logger.Info("job completed",
		logger.String("jobID", jobID),
		logger.Int("pages", doc.PageCount),
		logger.Int("ocrWarnings", ocrWarnings),
		logger.Int("degradedBlocks", stats.Degraded),
		logger.Int("clippedBlocks", buildRes.ClippedBlocks))
}

// runOCR recognizes every page without a usable text layer, ocrConcurrency
// pages at a time. Pages whose recognition degrades are counted as warnings
// and reported in failedPages; errors fatal for the whole job abort the run.
func (o *Orchestrator) runOCR(ctx context.Context, doc *extract.Document, pdfPath, lang string) (int, map[int]bool, error) {
	pages := doc.OCRPages()
	warnings := 0
	failed := make(map[int]bool)
	if len(pages) == 0 {
		return 0, failed, nil
	}

	var mu sync.Mutex
	degrade := func(pageNum int) {
		mu.Lock()
		warnings++
		failed[pageNum] = true
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.ocrConcurrency)
	for _, page := range pages {
		g.Go(func() error {
			if o.ocr == nil {
				degrade(page.Number)
				return nil
			}
			err := o.ocr.RecognizePage(gctx, page, pdfPath, lang)
			if err == nil {
				return nil
			}
			if types.IsFatalForJob(err) {
				return err
			}
			degrade(page.Number)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return warnings, failed, err
	}
	return warnings, failed, nil
}

// recordPages persists the per-page trace. Recording is best effort, a
// storage hiccup here must not kill an otherwise healthy job.
func (o *Orchestrator) recordPages(jobID string, doc *extract.Document, failedPages map[int]bool) {
	for _, page := range doc.Pages {
		mode, status := PageModeText, PageStatusOK
		if page.NeedsOCR {
			mode = PageModeOCR
			if failedPages[page.Number] {
				status = PageStatusOCRFailed
			}
		}
		if err := o.store.RecordPage(jobID, page.Number, mode, status, page.CharCount); err != nil {
			logger.Warn("cannot record job page",
				logger.String("jobID", jobID),
				logger.Int("page", page.Number),
				logger.Err(err))
		}
	}
}

// complete burns the reserved credits and moves the job to Completed in one
// transaction, mirroring how the debit commits with the move to Extracting.
func (o *Orchestrator) complete(j *Job) error {
	cur, err := o.store.Get(j.ID)
	if err != nil {
		return err
	}
	if statusRank[cur.Status] >= statusRank[StatusCompleted] {
		return nil
	}

	tx, err := o.store.DB().Begin()
	if err != nil {
		return types.NewAppError(types.ErrStorage, "failed to begin completion", err)
	}
	if err := o.ledger.CaptureTx(tx, j.UserID, j.ID); err != nil {
		tx.Rollback()
		return err
	}
	if err := o.store.TransitionTx(tx, j.ID, StatusCompleted); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.NewAppError(types.ErrStorage, "failed to commit completion", err)
	}
	return nil
}

// fail moves the job to Failed, refunds any debit and drops its artifacts.
func (o *Orchestrator) fail(j *Job, cause error) {
	code := types.CodeOf(cause)
	logger.Error("job failed", cause,
		logger.String("jobID", j.ID),
		logger.String("code", string(code)))

	if err := o.store.Fail(j.ID, code, cause.Error()); err != nil {
		logger.Error("cannot mark job failed", err, logger.String("jobID", j.ID))
	}
	if _, err := o.ledger.Refund(j.UserID, j.ID); err != nil {
		logger.Error("refund failed", err, logger.String("jobID", j.ID))
	}
	if err := o.artifacts.Remove(j.ID); err != nil {
		logger.Warn("cannot remove failed job artifacts",
			logger.String("jobID", j.ID), logger.Err(err))
	}
}

// Lookup returns a job, expiring it lazily when its expiry timestamp has
// passed. The clock runs from creation, so a job that sat in the queue for
// most of its retention window expires on schedule regardless of when it
// finished.
func (o *Orchestrator) Lookup(jobID string) (*Job, error) {
	j, err := o.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if j.Status == StatusCompleted && time.Now().UTC().After(j.ExpiresAt) {
		if err := o.store.MarkExpired(jobID); err != nil {
			return nil, err
		}
		o.artifacts.Remove(jobID)
		return o.store.Get(jobID)
	}
	return j, nil
}

// SweepExpired expires every completed job past its expiry timestamp and
// removes its artifacts. Returns the number of jobs expired.
func (o *Orchestrator) SweepExpired() (int, error) {
	ids, err := o.store.ListExpired(time.Now().UTC())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := o.store.MarkExpired(id); err != nil {
			logger.Warn("cannot expire job", logger.String("jobID", id), logger.Err(err))
			continue
		}
		o.artifacts.Remove(id)
	}
	if len(ids) > 0 {
		logger.Info("expired jobs swept", logger.Int("count", len(ids)))
	}
	return len(ids), nil
}
