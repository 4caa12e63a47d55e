package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/macrolens/mealreport/internal/domain"
	"github.com/macrolens/mealreport/internal/metrics"
	"go.uber.org/zap"
)

// ReportRepositoryConfig holds configuration for the report repository
type ReportRepositoryConfig struct {
	// CompactionDelay defers the post-first-view rewrite so the first render can finish
	CompactionDelay time.Duration

	// CompactionTimeout bounds one background rewrite
	CompactionTimeout time.Duration

	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// ReportRepository stores reports across an ordered list of backends.
// The first usable backend is preferred; later ones are fallbacks for writes
// and for reads of records the preferred backend does not hold.
type ReportRepository struct {
	candidates []domain.ReportBackend
	cfg        ReportRepositoryConfig
	logger     *zap.Logger
	metrics    *metrics.Metrics

	initMu      sync.Mutex
	initialized bool
	active      []domain.ReportBackend

	// stateMu orders compaction writes against saves and deletes.
	// seq grows on every save/delete; changed[id] is the seq of the last one for id
	// and clearedAt is the seq of the last DeleteAllReports.
	stateMu   sync.Mutex
	seq       uint64
	changed   map[string]uint64
	clearedAt uint64
	viewed    map[string]bool

	pending   sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

// NewReportRepository creates a repository over backends in preference order.
// The last backend should be the key-value store, which is always usable.
func NewReportRepository(
	backends []domain.ReportBackend,
	cfg ReportRepositoryConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ReportRepository {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CompactionTimeout <= 0 {
		cfg.CompactionTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReportRepository{
		candidates: backends,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		changed:    make(map[string]uint64),
		viewed:     make(map[string]bool),
		closing:    make(chan struct{}),
	}
}

// backends probes the candidates once. A failed attempt (cancelled context or no
// usable backend at all) is retried on the next call; a successful one is final.
func (r *ReportRepository) backends(ctx context.Context) ([]domain.ReportBackend, error) {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.initialized {
		return r.active, nil
	}

	active := make([]domain.ReportBackend, 0, len(r.candidates))
	for _, b := range r.candidates {
		if err := b.Probe(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("initialize report storage: %w", ctxErr)
			}
			r.logger.Warn("report backend unavailable, falling back",
				zap.String("backend", b.Name()), zap.Error(err))
			continue
		}
		active = append(active, b)
	}
	if len(active) == 0 {
		return nil, domain.ErrBackendUnavailable
	}

	names := make([]string, len(active))
	for i, b := range active {
		names[i] = b.Name()
	}
	r.logger.Info("report storage initialized", zap.Strings("backends", names))

	r.active = active
	r.initialized = true
	return active, nil
}

// Backends returns the names of the usable backends in preference order
func (r *ReportRepository) Backends(ctx context.Context) ([]string, error) {
	active, err := r.backends(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(active))
	for i, b := range active {
		names[i] = b.Name()
	}
	return names, nil
}

// markChanged records a save or delete of id, invalidating pending compactions for it
func (r *ReportRepository) markChanged(id string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.seq++
	r.changed[id] = r.seq
	delete(r.viewed, id)
}

// readToken returns the sequence number a read starts at
func (r *ReportRepository) readToken() uint64 {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.seq
}

// changedSinceLocked reports whether id was saved, deleted or cleared after token
func (r *ReportRepository) changedSinceLocked(id string, token uint64) bool {
	return r.changed[id] > token || r.clearedAt > token
}

// claimFirstView reports whether this caller serves the first view of a record of id
// read at token. stale is set when a save or delete landed after the read started;
// the record read is then outdated and must be neither claimed nor compacted.
func (r *ReportRepository) claimFirstView(id string, token uint64) (first, stale bool) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.changedSinceLocked(id, token) {
		return false, true
	}
	if r.viewed[id] {
		return false, false
	}
	r.viewed[id] = true
	return true, false
}

// SaveReport stores a freshly generated report as a first-view envelope, image included.
// When a backend rejects it, the next one is tried. A key-value store over quota is
// retried once with the compacted, image-free envelope before giving up.
func (r *ReportRepository) SaveReport(ctx context.Context, report domain.Report) error {
	if report.ID == "" {
		return fmt.Errorf("%w: report id is required", domain.ErrInvalidRequest)
	}

	backends, err := r.backends(ctx)
	if err != nil {
		return err
	}

	env := domain.NewEnvelope(report, r.cfg.Now())
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.ID, err)
	}

	r.markChanged(report.ID)

	var errs []error
	for _, b := range backends {
		err := b.Write(ctx, report.ID, string(payload))
		r.metrics.ObserveStorage(b.Name(), "write", err)
		if err == nil {
			r.logger.Debug("report saved", zap.String("id", report.ID), zap.String("backend", b.Name()))
			return nil
		}

		if errors.Is(err, domain.ErrQuotaExceeded) {
			if cerr := r.writeEnvelope(ctx, b, env.Compacted()); cerr == nil {
				r.logger.Warn("report saved without image to fit storage quota",
					zap.String("id", report.ID), zap.String("backend", b.Name()))
				return nil
			}
		}

		r.logger.Warn("error saving report, trying next backend",
			zap.String("id", report.ID), zap.String("backend", b.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}

	return fmt.Errorf("save report %s: %w", report.ID, errors.Join(errs...))
}

func (r *ReportRepository) writeEnvelope(ctx context.Context, b domain.ReportBackend, env domain.StoredReportEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	err = b.Write(ctx, env.ID, string(payload))
	r.metrics.ObserveStorage(b.Name(), "write", err)
	return err
}

// GetReport loads a report. The first view returns the image and schedules a background
// rewrite that strips it; every later view returns the report with an empty image.
// A missing report yields domain.ErrReportNotFound; an unreadable one domain.ErrMalformedRecord.
func (r *ReportRepository) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: report id is required", domain.ErrInvalidRequest)
	}

	backends, err := r.backends(ctx)
	if err != nil {
		return nil, err
	}

	var malformed, failed error
	for _, b := range backends {
		token := r.readToken()
		raw, err := b.Read(ctx, id)
		if errors.Is(err, domain.ErrReportNotFound) {
			r.metrics.ObserveStorage(b.Name(), "read", nil)
			continue
		}
		r.metrics.ObserveStorage(b.Name(), "read", err)
		if err != nil {
			r.logger.Warn("error reading report, trying next backend",
				zap.String("id", id), zap.String("backend", b.Name()), zap.Error(err))
			failed = err
			continue
		}

		env, err := decodeRecord(id, raw, r.cfg.Now())
		if err != nil {
			r.logger.Warn("skipping malformed report record",
				zap.String("id", id), zap.String("backend", b.Name()), zap.Error(err))
			malformed = err
			continue
		}

		report := env.Data
		if env.IsFirstView {
			first, stale := r.claimFirstView(id, token)
			if first {
				r.scheduleCompaction(b, env, token)
			}
			if first || stale {
				return &report, nil
			}
		}
		report.ImageURL = ""
		return &report, nil
	}

	switch {
	case malformed != nil:
		return nil, malformed
	case failed != nil:
		return nil, fmt.Errorf("load report %s: %w", id, failed)
	default:
		return nil, domain.ErrReportNotFound
	}
}

func (r *ReportRepository) scheduleCompaction(b domain.ReportBackend, env domain.StoredReportEnvelope, seq uint64) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()

		if r.cfg.CompactionDelay > 0 {
			timer := time.NewTimer(r.cfg.CompactionDelay)
			select {
			case <-timer.C:
			case <-r.closing:
				timer.Stop()
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CompactionTimeout)
		defer cancel()

		if err := r.compact(ctx, b, env, seq); err != nil {
			r.logger.Warn("report compaction failed",
				zap.String("id", env.ID), zap.String("backend", b.Name()), zap.Error(err))
		}
	}()
}

// compact rewrites the record without its image unless it was saved, deleted or
// removed by eviction after the first view was served.
func (r *ReportRepository) compact(ctx context.Context, b domain.ReportBackend, env domain.StoredReportEnvelope, seq uint64) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if r.changedSinceLocked(env.ID, seq) {
		r.logger.Debug("report changed since first view, skipping compaction", zap.String("id", env.ID))
		return nil
	}

	if _, err := b.Read(ctx, env.ID); err != nil {
		if errors.Is(err, domain.ErrReportNotFound) {
			return nil
		}
		return err
	}

	return r.writeEnvelope(ctx, b, env.Compacted())
}

// ListReports returns the envelopes of every backend, newest first. A report held by
// several backends is listed once, from the most preferred one. Unreadable records are
// logged and skipped.
func (r *ReportRepository) ListReports(ctx context.Context) ([]domain.StoredReportEnvelope, error) {
	backends, err := r.backends(ctx)
	if err != nil {
		return nil, err
	}

	now := r.cfg.Now()
	seen := make(map[string]bool)
	reports := make([]domain.StoredReportEnvelope, 0)

	var errs []error
	for _, b := range backends {
		records, err := b.List(ctx)
		r.metrics.ObserveStorage(b.Name(), "list", err)
		if err != nil {
			r.logger.Warn("error listing reports", zap.String("backend", b.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}

		for _, record := range records {
			env, err := decodeRecord(record.ID, record.Value, now)
			if err != nil {
				r.logger.Warn("skipping malformed report record",
					zap.String("id", record.ID), zap.String("backend", b.Name()), zap.Error(err))
				continue
			}
			if seen[env.ID] {
				continue
			}
			seen[env.ID] = true
			reports = append(reports, env)
		}
	}

	if len(errs) == len(backends) {
		return nil, fmt.Errorf("list reports: %w", errors.Join(errs...))
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Timestamp > reports[j].Timestamp
	})
	return reports, nil
}

// DeleteReport removes a report from every backend. Absence is not an error.
func (r *ReportRepository) DeleteReport(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: report id is required", domain.ErrInvalidRequest)
	}

	backends, err := r.backends(ctx)
	if err != nil {
		return err
	}

	r.markChanged(id)

	var errs []error
	for _, b := range backends {
		err := b.Delete(ctx, id)
		r.metrics.ObserveStorage(b.Name(), "delete", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("delete report %s: %w", id, errors.Join(errs...))
	}
	return nil
}

// DeleteAllReports removes every report from every backend. A failure on one backend
// does not stop the others from being cleared.
func (r *ReportRepository) DeleteAllReports(ctx context.Context) error {
	backends, err := r.backends(ctx)
	if err != nil {
		return err
	}

	r.stateMu.Lock()
	r.seq++
	r.clearedAt = r.seq
	r.viewed = make(map[string]bool)
	r.stateMu.Unlock()

	var errs []error
	for _, b := range backends {
		err := b.DeleteAll(ctx)
		r.metrics.ObserveStorage(b.Name(), "delete_all", err)
		if err != nil {
			r.logger.Error("error deleting reports", zap.String("backend", b.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("delete all reports: %w", errors.Join(errs...))
	}
	return nil
}

// Wait blocks until every scheduled compaction has finished
func (r *ReportRepository) Wait() {
	r.pending.Wait()
}

// Close runs pending compactions without their delay and waits for them
func (r *ReportRepository) Close() {
	r.closeOnce.Do(func() { close(r.closing) })
	r.pending.Wait()
}
