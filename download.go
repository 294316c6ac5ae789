package syncdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Download pairs a remote source URL with a local destination path.
type Download struct {
	Source      string
	Destination string
}

// DownloadFailure is a download that exhausted its attempts or hit a
// permanent condition.
type DownloadFailure struct {
	Download
	Attempts int
	Err      error
}

// DownloadReport partitions a batch into succeeded and permanently failed
// downloads. Destinations that already existed count as succeeded.
type DownloadReport struct {
	Succeeded []Download
	Existing  []Download
	Failed    []DownloadFailure
}

// Downloader fetches remote resources concurrently with bounded retries.
// Responses 403, 404 and 405 fail immediately, 503 backs off before the next
// attempt, other failures retry up to the attempt budget.
type Downloader struct {
	workers int
	tries   int
	backoff time.Duration
	client  *http.Client
	log     *RunLog
}

type DownloaderOption func(*Downloader)

// WithDownloadWorkers sets the worker pool size.
func WithDownloadWorkers(workers int) DownloaderOption {
	return func(d *Downloader) {
		d.workers = workers
	}
}

// WithDownloadTries sets the per-item attempt budget.
func WithDownloadTries(tries int) DownloaderOption {
	return func(d *Downloader) {
		d.tries = tries
	}
}

// WithDownloadBackoff sets the pause taken after a throttled response.
func WithDownloadBackoff(backoff time.Duration) DownloaderOption {
	return func(d *Downloader) {
		d.backoff = backoff
	}
}

// WithDownloadClient sets the HTTP client, usually to bound the per-attempt
// timeout.
func WithDownloadClient(client *http.Client) DownloaderOption {
	return func(d *Downloader) {
		d.client = client
	}
}

// WithDownloadLog mirrors per-item progress marks to a run log.
func WithDownloadLog(log *RunLog) DownloaderOption {
	return func(d *Downloader) {
		d.log = log
	}
}

func NewDownloader(options ...DownloaderOption) *Downloader {
	d := &Downloader{
		workers: 5,
		tries:   5,
		backoff: 1 * time.Second,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range options {
		opt(d)
	}
	// a pool with no workers or no attempts would never drain the queue.
	if d.workers < 1 {
		d.workers = 1
	}
	if d.tries < 1 {
		d.tries = 1
	}
	return d
}

type downloadJob struct {
	Download
	attempts int
}

// Run fetches every source/destination pair and blocks until each reached a
// terminal outcome. Retries re-enter the same queue the workers consume; the
// queue capacity covers the whole attempt budget so a worker never blocks
// re-queueing its own job.
func (d *Downloader) Run(ctx context.Context, files map[string]string) DownloadReport {
	var report DownloadReport
	if len(files) == 0 {
		return report
	}

	sources := make([]string, 0, len(files))
	for source := range files {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	tries := d.tries
	if tries < 1 {
		tries = 1
	}

	jobs := make(chan downloadJob, len(files)*tries)
	var pending sync.WaitGroup
	var mu sync.Mutex

	done := func(fn func()) {
		mu.Lock()
		fn()
		mu.Unlock()
		pending.Done()
	}

	worker := func() {
		for job := range jobs {
			job.attempts++
			outcome, err := d.attempt(ctx, job.Download)
			switch {
			case outcome == downloadExists:
				d.mark("-")
				done(func() { report.Existing = append(report.Existing, job.Download) })
			case outcome == downloadOK:
				d.mark("+")
				done(func() { report.Succeeded = append(report.Succeeded, job.Download) })
			case outcome == downloadPermanent || job.attempts >= tries:
				d.mark("x")
				job := job
				done(func() {
					report.Failed = append(report.Failed, DownloadFailure{
						Download: job.Download,
						Attempts: job.attempts,
						Err:      err,
					})
				})
			default:
				if outcome == downloadThrottled {
					time.Sleep(d.backoff)
				}
				jobs <- job
			}
		}
	}

	pending.Add(len(files))
	for _, source := range sources {
		jobs <- downloadJob{Download: Download{Source: source, Destination: files[source]}}
	}

	workers := d.workers
	if workers > len(files) {
		workers = len(files)
	}
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go worker()
	}

	pending.Wait()
	close(jobs)
	return report
}

type downloadOutcome int

const (
	downloadOK downloadOutcome = iota
	downloadExists
	downloadPermanent
	downloadThrottled
	downloadRetry
)

func (d *Downloader) attempt(ctx context.Context, dl Download) (downloadOutcome, error) {
	if _, err := os.Stat(dl.Destination); err == nil {
		return downloadExists, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dl.Source, nil)
	if err != nil {
		return downloadPermanent, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return downloadRetry, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusNotFound, http.StatusMethodNotAllowed:
		return downloadPermanent, fmt.Errorf("'%s' returned status %d", dl.Source, resp.StatusCode)
	case http.StatusServiceUnavailable:
		return downloadThrottled, fmt.Errorf("'%s' returned status %d", dl.Source, resp.StatusCode)
	default:
		return downloadRetry, fmt.Errorf("'%s' returned status %d", dl.Source, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dl.Destination), 0o777); err != nil {
		return downloadPermanent, err
	}
	if err := writeStream(dl.Destination, resp.Body); err != nil {
		return downloadRetry, err
	}
	return downloadOK, nil
}

func (d *Downloader) mark(mark string) {
	if d.log != nil {
		d.log.Mark(mark)
	}
}

// writeStream copies the body to the destination, removing partial files so
// a failed attempt is retried from scratch.
func writeStream(destination string, body io.Reader) error {
	f, err := os.Create(destination)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(destination)
		return err
	}
	return nil
}
