// Package service orchestrates the batch pipeline: discovery, identity
// resolution, conversion, upload, ledger bookkeeping and cleanup.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"imgpipe/internal/config"
	"imgpipe/internal/converter"
	"imgpipe/internal/domain"
	"imgpipe/internal/identity"
	"imgpipe/internal/ledger"
	"imgpipe/internal/repository"
)

// candidate is one filesystem entry matched by the naming pattern.
// Enumerated fresh on every run, never persisted.
type candidate struct {
	Path string
	Name string
}

// item is a candidate with its resolved identity and output location.
type item struct {
	candidate
	Identity domain.Identity
	DstPath  string
}

// Pipeline runs one batch. Workers share only the ledger (serialized
// internally) and the uploaded-id accumulator guarded here; no two workers
// are ever assigned the same source file.
type Pipeline struct {
	cfg     *config.Config
	store   repository.RemoteStore // nil in dry-run mode
	ledger  *ledger.Ledger
	conv    *converter.Converter
	ext     *identity.Extractor
	pattern *regexp.Regexp
	log     *zap.Logger

	mu          sync.Mutex
	uploadedIDs []string
}

// New wires the pipeline. store may be nil, which turns every upload into
// a dry-run success without network calls or ledger writes.
func New(cfg *config.Config, store repository.RemoteStore, led *ledger.Ledger, log *zap.Logger) (*Pipeline, error) {
	// Candidate matching is case-insensitive and anchored at the start
	// of the name, so a filter like pregen_.* does not match
	// xpregen_... and PREGEN_ files are not silently ignored.
	pattern, err := regexp.Compile("(?i)^(?:" + cfg.Pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", cfg.Pattern, err)
	}

	ext, err := identity.NewExtractor(cfg.IdentityPattern, log)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		store:   store,
		ledger:  led,
		conv:    converter.New(cfg.Quality, log),
		ext:     ext,
		pattern: pattern,
		log:     log,
	}, nil
}

// Run processes every discovered candidate across the worker pool and
// returns the batch summary. Outcomes are aggregated in completion order;
// items run to completion or individual failure, there is no cancellation
// path for an in-flight batch.
func (p *Pipeline) Run(ctx context.Context) domain.Summary {
	summary := domain.Summary{RunID: uuid.NewString()}
	log := p.log.With(zap.String("run_id", summary.RunID))

	candidates := p.discover(log)
	if len(candidates) == 0 {
		log.Info("no matching files found", zap.String("dir", p.cfg.ScanDir))
		return summary
	}

	items := make([]item, 0, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		stem := strings.TrimSuffix(c.Name, filepath.Ext(c.Name))
		id := p.ext.Extract(stem)
		items = append(items, item{
			candidate: c,
			Identity:  id,
			DstPath:   filepath.Join(filepath.Dir(c.Path), id.ID+".jpg"),
		})
		ids = append(ids, id.ID)
	}

	// One batch query up front keeps ledger contention away from the hot
	// path; workers still re-check before converting.
	skip, err := p.ledger.BatchCheckUploaded(ctx, ids)
	if err != nil {
		log.Error("batch ledger check failed, falling back to per-item checks", zap.Error(err))
		skip = map[string]struct{}{}
	}

	results := make(chan domain.Outcome, len(items))

	g := &errgroup.Group{}
	g.SetLimit(p.cfg.MaxWorkers)
	for _, it := range items {
		g.Go(func() error {
			results <- p.processItem(ctx, log, it, skip)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	for outcome := range results {
		summary.Add(outcome)
	}

	p.flushLedger(ctx, log)
	p.logSummary(log, &summary)

	return summary
}

// discover enumerates candidate files once. A missing or unreadable scan
// directory yields an empty batch, matching the behavior of earlier
// revisions of this tool.
func (p *Pipeline) discover(log *zap.Logger) []candidate {
	entries, err := os.ReadDir(p.cfg.ScanDir)
	if err != nil {
		log.Error("failed to read scan directory",
			zap.String("dir", p.cfg.ScanDir),
			zap.Error(err))
		return nil
	}

	var found []candidate
	for _, entry := range entries {
		if entry.IsDir() || !p.pattern.MatchString(entry.Name()) {
			continue
		}
		found = append(found, candidate{
			Path: filepath.Join(p.cfg.ScanDir, entry.Name()),
			Name: entry.Name(),
		})
		log.Info("found matching file", zap.String("file", entry.Name()))
	}

	log.Info("discovery finished",
		zap.String("dir", p.cfg.ScanDir),
		zap.Int("matches", len(found)))

	return found
}

// processItem runs the per-item state machine. Every failure is contained
// here: nothing below the orchestrator terminates the process or affects
// sibling items.
func (p *Pipeline) processItem(ctx context.Context, log *zap.Logger, it item, skip map[string]struct{}) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected panic while processing item",
				zap.String("file", it.Name),
				zap.Any("panic", r))
			outcome.Errors = append(outcome.Errors,
				fmt.Sprintf("Error processing %s: %v", it.Name, r))
		}
	}()

	outcome.ID = it.Identity.ID

	if p.skipUploaded(ctx, log, it, skip) {
		return outcome
	}
	outcome.Processed = 1

	if err := p.conv.Convert(it.Path, it.DstPath); err != nil {
		log.Error("conversion failed",
			zap.String("file", it.Name),
			zap.Error(err))
		outcome.Errors = append(outcome.Errors,
			fmt.Sprintf("Conversion failed: %s: %v", it.Name, err))
		return outcome
	}
	outcome.Converted = 1

	if p.store == nil {
		log.Info("dry run, would upload",
			zap.String("file", it.Name),
			zap.String("key", it.Identity.ID+".jpg"),
			zap.Any("metadata", it.Identity.Metadata))
		outcome.Uploaded = 1
	} else {
		if err := p.upload(ctx, it); err != nil {
			// Remove the converted artifact so a failed upload never
			// leaks files that were not persisted remotely.
			if rmErr := os.Remove(it.DstPath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Error("failed to remove converted file after upload failure",
					zap.String("file", it.DstPath),
					zap.Error(rmErr))
			}
			outcome.Errors = append(outcome.Errors,
				fmt.Sprintf("Upload failed: %s: %v", filepath.Base(it.DstPath), err))
			return outcome
		}
		outcome.Uploaded = 1

		p.mu.Lock()
		p.uploadedIDs = append(p.uploadedIDs, it.Identity.ID)
		p.mu.Unlock()
	}

	if !p.cfg.NoCleanup {
		p.cleanup(log, it)
		outcome.Cleaned = 1
	}

	return outcome
}

// skipUploaded applies the at-most-once guard. The batch prefilter catches
// ids uploaded by earlier runs; the ledger re-check catches anything that
// landed since the prefilter. Skips stay out of the processed count but
// are logged.
func (p *Pipeline) skipUploaded(ctx context.Context, log *zap.Logger, it item, skip map[string]struct{}) bool {
	if _, ok := skip[it.Identity.ID]; ok {
		log.Info("skipping already uploaded file",
			zap.String("file", it.Name),
			zap.String("id", it.Identity.ID))
		return true
	}

	uploaded, err := p.ledger.IsUploaded(ctx, it.Identity.ID)
	if err != nil {
		log.Error("ledger check failed, processing anyway",
			zap.String("id", it.Identity.ID),
			zap.Error(err))
		return false
	}
	if uploaded {
		log.Info("skipping already uploaded file",
			zap.String("file", it.Name),
			zap.String("id", it.Identity.ID))
	}
	return uploaded
}

func (p *Pipeline) upload(ctx context.Context, it item) error {
	f, err := os.Open(it.DstPath)
	if err != nil {
		return fmt.Errorf("failed to open converted file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat converted file: %w", err)
	}

	key := it.Identity.ID + ".jpg"
	return p.store.Upload(ctx, key, f, fi.Size(), converter.ContentType, it.Identity.Metadata)
}

// cleanup removes the source file and, unless configured otherwise, the
// converted file. Failures here are logged but never escalate to batch
// errors.
func (p *Pipeline) cleanup(log *zap.Logger, it item) {
	if err := os.Remove(it.Path); err != nil && !os.IsNotExist(err) {
		log.Error("failed to remove source file",
			zap.String("file", it.Path),
			zap.Error(err))
	} else {
		log.Info("removed source file", zap.String("file", it.Name))
	}

	if p.cfg.KeepConverted {
		log.Info("kept converted file", zap.String("file", it.DstPath))
		return
	}
	if err := os.Remove(it.DstPath); err != nil && !os.IsNotExist(err) {
		log.Error("failed to remove converted file",
			zap.String("file", it.DstPath),
			zap.Error(err))
	} else {
		log.Info("removed converted file", zap.String("file", filepath.Base(it.DstPath)))
	}
}

// flushLedger performs the single deferred batch write covering every id
// that completed a real upload. A write failure leaves the remote store
// and the ledger divergent until a later run re-uploads; that window is
// accepted, so the failure is logged rather than added to batch errors.
func (p *Pipeline) flushLedger(ctx context.Context, log *zap.Logger) {
	p.mu.Lock()
	ids := p.uploadedIDs
	p.uploadedIDs = nil
	p.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	if err := p.ledger.BatchMarkUploaded(ctx, ids); err != nil {
		log.Error("failed to record uploads in ledger",
			zap.Int("count", len(ids)),
			zap.Error(err))
		return
	}
	log.Info("recorded uploads in ledger", zap.Int("count", len(ids)))
}

func (p *Pipeline) logSummary(log *zap.Logger, s *domain.Summary) {
	log.Info("batch summary",
		zap.Int("processed", s.Processed),
		zap.Int("converted", s.Converted),
		zap.Int("uploaded", s.Uploaded),
		zap.Int("cleaned", s.Cleaned),
		zap.Int("errors", len(s.Errors)))
	for _, e := range s.Errors {
		log.Error("batch error", zap.String("error", e))
	}
}
