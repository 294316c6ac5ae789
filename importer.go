package syncdata

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Status is the terminal outcome of an importer run.
type Status int

const (
	StatusSuccess Status = 0
	StatusFailed  Status = 1
	StatusLocked  Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// runState tracks where a run is in its lifecycle. A run advances linearly
// through the states and ends in done, failed or locked; the two failure
// states absorb.
type runState int

const (
	stateIdle runState = iota
	stateLocking
	stateLoading
	stateDownloading
	statePreRun
	stateGenerating
	statePostRun
	stateUnlocking
	stateDone
	stateFailed
	stateLocked
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateLocking:
		return "locking"
	case stateLoading:
		return "loading"
	case stateDownloading:
		return "downloading"
	case statePreRun:
		return "pre-run"
	case stateGenerating:
		return "generating"
	case statePostRun:
		return "post-run"
	case stateUnlocking:
		return "unlocking"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	case stateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// RunContext is the state shared by one run: the staged collections, the
// remote resources discovered by loaders, the effective options and the run
// report. Loaders and hooks receive it mutable.
type RunContext struct {
	Data    *Data
	Files   map[string]string
	Options RunOptions
	Log     *RunLog
}

// RunOptions are the per-run switches. Zero value downloads and generates.
type RunOptions struct {
	SkipDownload bool
	SkipGenerate bool
	Verbose      bool
	Message      string
}

type RunOption func(*RunOptions)

// WithDownload toggles the download phase.
func WithDownload(download bool) RunOption {
	return func(o *RunOptions) {
		o.SkipDownload = !download
	}
}

// WithGenerate toggles the generating phase. Disabled, the run still loads,
// downloads and executes hooks, useful for fetching resources alone.
func WithGenerate(generate bool) RunOption {
	return func(o *RunOptions) {
		o.SkipGenerate = !generate
	}
}

// WithVerbose enables raw dumps of invalid items in the report.
func WithVerbose(verbose bool) RunOption {
	return func(o *RunOptions) {
		o.Verbose = verbose
	}
}

// WithMessage tags the report with a free-form run description.
func WithMessage(message string) RunOption {
	return func(o *RunOptions) {
		o.Message = message
	}
}

// RunResult is the outcome of a run: the status code, the full report text
// and the per-entity generation counters.
type RunResult struct {
	Status Status
	Log    string
	Stats  map[string]GenerateStats
}

// Importer coordinates a full run: lock, load, download, hooks, per-handler
// pipeline, unlock. Handlers execute in declared order, which must follow the
// dependency order of their collections.
type Importer struct {
	name       string
	store      Store
	loaders    []Loader
	handlers   []*Handler
	lock       *FileLock
	downloader *Downloader
	logger     *zap.Logger
}

type ImporterOption func(*Importer)

// WithLoaders appends loaders, kept in declared order.
func WithLoaders(loaders ...Loader) ImporterOption {
	return func(i *Importer) {
		i.loaders = append(i.loaders, loaders...)
	}
}

// WithHandlers appends handlers, kept in declared order.
func WithHandlers(handlers ...*Handler) ImporterOption {
	return func(i *Importer) {
		i.handlers = append(i.handlers, handlers...)
	}
}

// WithLock sets the mutual-exclusion lock. Nil disables locking.
func WithLock(lock *FileLock) ImporterOption {
	return func(i *Importer) {
		i.lock = lock
	}
}

// WithDownloader sets the downloader for remote resources.
func WithDownloader(downloader *Downloader) ImporterOption {
	return func(i *Importer) {
		i.downloader = downloader
	}
}

// WithLogger sets the structured logger the run report mirrors to.
func WithLogger(logger *zap.Logger) ImporterOption {
	return func(i *Importer) {
		i.logger = logger
	}
}

// NewImporter creates an importer writing through store.
func NewImporter(name string, store Store, options ...ImporterOption) *Importer {
	i := &Importer{
		name:  name,
		store: store,
	}
	for _, opt := range options {
		opt(i)
	}
	if i.downloader == nil {
		i.downloader = NewDownloader()
	}
	if i.logger == nil {
		i.logger = zap.NewNop()
	}
	return i
}

func (i *Importer) Name() string {
	return i.name
}

// Configure applies options after construction, usually process-level
// settings layered over the importer's declaration. Not safe during a run.
func (i *Importer) Configure(options ...ImporterOption) {
	for _, opt := range options {
		opt(i)
	}
}

// Run executes one full import run. Lock contention is an outcome, not an
// error: the result carries StatusLocked and err is nil. Any other failure
// returns the error alongside a StatusFailed result holding the partial
// report.
func (i *Importer) Run(ctx context.Context, options ...RunOption) (*RunResult, error) {
	var opts RunOptions
	for _, opt := range options {
		opt(&opts)
	}

	log := NewRunLog(i.logger)
	result := &RunResult{
		Stats: make(map[string]GenerateStats),
	}

	state := stateIdle
	transition := func(next runState) {
		i.logger.Debug("importer state",
			zap.String("importer", i.name),
			zap.Stringer("from", state),
			zap.Stringer("to", next))
		state = next
	}

	started := time.Now()
	log.Printf("importer '%s' starting", i.name)
	if opts.Message != "" {
		log.Printf("message: %s", opts.Message)
	}

	transition(stateLocking)
	if i.lock != nil {
		acquired, remaining, err := i.lock.Lock()
		if err != nil {
			transition(stateFailed)
			result.Status = StatusFailed
			result.Log = log.String()
			return result, err
		}
		if !acquired {
			transition(stateLocked)
			log.Banner("LOCKED")
			log.Printf("%v, %s until the marker goes stale", LockContentionError, remaining.Round(time.Second))
			result.Status = StatusLocked
			result.Log = log.String()
			return result, nil
		}
	}

	err := i.run(ctx, &RunContext{
		Data:    NewData(),
		Files:   make(map[string]string),
		Options: opts,
		Log:     log,
	}, result, transition)

	transition(stateUnlocking)
	if i.lock != nil {
		if uerr := i.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}

	if err != nil {
		transition(stateFailed)
		log.Printf("\nrun failed: %v", err)
		result.Status = StatusFailed
		result.Log = log.String()
		return result, err
	}

	transition(stateDone)
	log.Banner("FINISHED")
	log.Printf("importer '%s' finished in %s", i.name, time.Since(started).Round(time.Millisecond))
	result.Status = StatusSuccess
	result.Log = log.String()
	return result, nil
}

// run executes the phases between locking and unlocking. Panics anywhere in
// loaders, hooks or handlers surface as errors with their stack so the lock
// is still released.
func (i *Importer) run(ctx context.Context, rc *RunContext, result *RunResult, transition func(runState)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("importer panic: %v", r)
		}
	}()

	transition(stateLoading)
	rc.Log.Banner("LOADERS")
	for _, loader := range i.loaders {
		if lerr := loader.Run(ctx, rc); lerr != nil {
			return errors.Wrap(lerr, "loader failed")
		}
	}
	rc.Log.Printf("%d collections staged, %d files discovered", len(rc.Data.Collections), len(rc.Files))

	transition(stateDownloading)
	if !rc.Options.SkipDownload && len(rc.Files) > 0 {
		rc.Log.Banner("DOWNLOADS")
		report := i.download(ctx, rc)
		rc.Log.Printf("\n%d downloaded, %d already present, %d failed",
			len(report.Succeeded), len(report.Existing), len(report.Failed))
		for _, failure := range report.Failed {
			rc.Log.Printf("download of '%s' failed after %d attempts: %v",
				failure.Source, failure.Attempts, failure.Err)
		}
	}

	transition(statePreRun)
	if err := i.hooks(ctx, rc, true); err != nil {
		return err
	}

	transition(stateGenerating)
	if !rc.Options.SkipGenerate {
		rc.Log.Banner("HANDLERS")
		for _, handler := range i.handlers {
			if err := i.handle(ctx, rc, handler, result); err != nil {
				return err
			}
		}
	}

	transition(statePostRun)
	return i.hooks(ctx, rc, false)
}

func (i *Importer) download(ctx context.Context, rc *RunContext) DownloadReport {
	downloader := *i.downloader
	downloader.log = rc.Log
	return downloader.Run(ctx, rc.Files)
}

// hooks runs the pre or post hooks of every loader and handler in declared
// order. They run even when generation is skipped, so side effects stay
// paired across a fetch-only run.
func (i *Importer) hooks(ctx context.Context, rc *RunContext, pre bool) error {
	for _, loader := range i.loaders {
		if pre {
			if h, ok := loader.(PreRunner); ok {
				if err := h.PreRun(ctx, rc); err != nil {
					return errors.Wrap(err, "loader pre-run hook failed")
				}
			}
		} else {
			if h, ok := loader.(PostRunner); ok {
				if err := h.PostRun(ctx, rc); err != nil {
					return errors.Wrap(err, "loader post-run hook failed")
				}
			}
		}
	}
	for _, handler := range i.handlers {
		hook := handler.PreRun
		if !pre {
			hook = handler.PostRun
		}
		if hook == nil {
			continue
		}
		if err := hook(ctx, rc); err != nil {
			return errors.Wrapf(err, "handler '%s' hook failed", handler.Schema.Entity)
		}
	}
	return nil
}

// handle runs the synchronize, prepare, validate and generate phases for one
// handler. Handlers whose collection was not staged are skipped.
func (i *Importer) handle(ctx context.Context, rc *RunContext, handler *Handler, result *RunResult) error {
	entity := handler.Schema.Entity
	if _, ok := rc.Data.Collections[entity]; !ok {
		return nil
	}

	rc.Log.Printf("\n%s", entity)

	if err := Synchronize(ctx, rc.Data, i.store, handler); err != nil {
		return errors.Wrapf(err, "synchronize '%s' failed", entity)
	}
	if err := Prepare(ctx, rc.Data, i.store, handler); err != nil {
		return errors.Wrapf(err, "prepare '%s' failed", entity)
	}

	rc.Log.Printf("validate")
	if err := Validate(ctx, rc.Data, i.store, handler, rc.Log, rc.Options.Verbose); err != nil {
		return errors.Wrapf(err, "validate '%s' failed", entity)
	}

	rc.Log.Printf("\ngenerate")
	stats, err := Generate(ctx, rc.Data, i.store, handler, rc.Log)
	if err != nil {
		return errors.Wrapf(err, "generate '%s' failed", entity)
	}
	result.Stats[entity] = stats
	rc.Log.Printf("\n%d created, %d updated, %d unchanged, %d invalid",
		stats.Created, stats.Updated, stats.Unchanged, stats.Invalid)
	return nil
}
