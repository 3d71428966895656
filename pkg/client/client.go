// Package client is the submission pipeline: it turns run create/update
// events into batched multipart requests against the ingestion service,
// decoupled from the traced caller's control flow.
package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/zeromicro/go-zero/core/executors"

	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/runtree"
)

const ingestPath = "/runs/multipart"

// Client batches run events and delivers them asynchronously. It implements
// runtree.Submitter. All methods are safe for concurrent use.
type Client struct {
	cfg  *config.Config
	http *retryablehttp.Client

	executor *executors.PeriodicalExecutor

	// slots bounds the number of in-flight events; enqueue blocks briefly on
	// a full queue, then drops and reports.
	slots chan struct{}

	mu        sync.Mutex
	onError   func(error)
	closeOnce sync.Once
}

// New builds a Client from cfg; a nil cfg loads configuration from the
// environment.
func New(cfg *config.Config) *Client {
	if cfg == nil {
		cfg = config.Load(config.NewViper())
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = config.DefaultQueueCap
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = config.DefaultBlockTimeout
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.CheckRetry = checkRetry

	c := &Client{
		cfg:   cfg,
		http:  rc,
		slots: make(chan struct{}, cfg.QueueCap),
	}
	c.executor = executors.NewPeriodicalExecutor(cfg.FlushInterval, &batchContainer{client: c})
	return c
}

// checkRetry retries transport failures and retryable statuses, but never a
// conflict: 409 means the resource exists, trying again cannot help.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.StatusCode == http.StatusConflict {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// OnDeliveryError installs a hook receiving failures that surface after the
// originating call has moved on. Without one, failures are logged.
func (c *Client) OnDeliveryError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// SubmitCreate enqueues a create event. Fire-and-forget.
func (c *Client) SubmitCreate(run *runtree.Run) {
	c.enqueue("post", run)
}

// SubmitUpdate enqueues an update event. Fire-and-forget. The run tree's
// state machine guarantees the matching create was enqueued first.
func (c *Client) SubmitUpdate(run *runtree.Run) {
	c.enqueue("patch", run)
}

var _ runtree.Submitter = (*Client)(nil)

func (c *Client) enqueue(method string, run *runtree.Run) {
	if c.cfg.TracingDisabled {
		return
	}

	parts, err := encodeRun(method, run)
	if err != nil {
		// the event is lost, surface it like any other delivery failure
		c.report(err)
		return
	}

	select {
	case c.slots <- struct{}{}:
	case <-time.After(c.cfg.BlockTimeout):
		c.report(ErrQueueFull)
		return
	}
	c.executor.Add(parts)
}

// Flush synchronously delivers everything currently queued.
func (c *Client) Flush() {
	c.executor.Flush()
}

// Close flushes pending events and waits for in-flight deliveries. Safe to
// call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.executor.Flush()
		c.executor.Wait()
	})
}

func (c *Client) report(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
		return
	}
	logrus.WithError(err).Error("SeeTrace couldn't deliver run events")
}

// deliver sends one batch as a single multipart request.
func (c *Client) deliver(batch [][]part) {
	defer func() {
		for range batch {
			<-c.slots
		}
	}()

	var flat []part
	for _, parts := range batch {
		flat = append(flat, parts...)
	}
	if len(flat) == 0 {
		return
	}

	boundary := newBoundary()
	body := joinParts(boundary, flat)

	req, err := retryablehttp.NewRequest(http.MethodPost, c.cfg.Endpoint+ingestPath, body)
	if err != nil {
		c.report(err)
		return
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.report(err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		c.report(ErrConflict)
	case resp.StatusCode >= http.StatusMultipleChoices:
		c.report(&DeliveryError{StatusCode: resp.StatusCode, Body: readBodyPrefix(resp)})
	default:
		logrus.Debugf("SeeTrace delivered %d event(s) in one batch", len(batch))
	}
}

// batchContainer implements executors.TaskContainer over pending events.
// The periodical executor serializes all calls, so no locking here.
type batchContainer struct {
	client *Client
	tasks  [][]part
}

func (b *batchContainer) AddTask(task any) bool {
	b.tasks = append(b.tasks, task.([]part))
	return len(b.tasks) >= b.client.cfg.BatchSize
}

func (b *batchContainer) Execute(tasks any) {
	b.client.deliver(tasks.([][]part))
}

func (b *batchContainer) RemoveAll() any {
	tasks := b.tasks
	b.tasks = nil
	return tasks
}
