package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/inventra/jobs"
)

// ErrUnsupportedJob indicates Trigger was asked for a job it cannot enqueue.
var ErrUnsupportedJob = errors.New("jobs cli: unsupported job")

// Enqueuer is the part of jobs.Client the CLI triggers through.
type Enqueuer interface {
	EnqueueReapOverrides(ctx context.Context) (*asynq.TaskInfo, error)
	Close() error
}

// Inspector is the part of *asynq.Inspector the CLI reads.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI backs the "inventra jobs" subcommands.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
}

// NewJobsCLI connects a job client and inspector to the queue.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases the client and inspector; the last error wins.
func (c *JobsCLI) Close() error {
	if c == nil {
		return nil
	}
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a job by name. Only the reaper can be run by hand;
// deferred writes need an actor and go through the API.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	switch name {
	case "reap", jobs.TaskReapOverrides:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedJob, name)
	}
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueReapOverrides(ctx)
}

// QueueStats summarises the default queue.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reads counters for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, fmt.Errorf("jobs cli: queue info: %w", err)
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
	}
	return stats, nil
}

// ListScheduled returns deferred override writes waiting for their time.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
