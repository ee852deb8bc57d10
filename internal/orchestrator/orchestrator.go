// Package orchestrator drives research jobs end to end: quota checks
// and queueing at submission, then per-mode execution against the
// scraping provider with synthesis and scratchpad bookkeeping.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mgoodale/webscout/internal/gateway"
	"github.com/mgoodale/webscout/internal/metrics"
	"github.com/mgoodale/webscout/internal/research"
	"github.com/mgoodale/webscout/internal/scratchpad"
	"github.com/mgoodale/webscout/internal/synthesis"
)

// GatewayFactory builds a provider gateway from a user's key. Each job
// runs with the submitting user's credentials; there is no shared
// provider client.
type GatewayFactory func(providerKey string) *gateway.Gateway

// CompleterFactory builds an LLM completer from a user's key. A nil
// return disables synthesis for that user's jobs.
type CompleterFactory func(anthropicKey string) synthesis.Completer

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Jobs       research.JobStore
	Users      research.UserStore
	Scratch    research.ScratchpadStore
	Index      research.VectorIndex
	Blobs      research.BlobStore
	Queue      research.Queue
	Publisher  research.Publisher
	Clock      research.Clock
	IDs        research.IDGenerator
	Logger     *zap.Logger
	Gateways   GatewayFactory
	Completers CompleterFactory

	// CompletionTopic receives job lifecycle events. Empty disables
	// event publishing.
	CompletionTopic string
}

// Orchestrator submits and runs jobs.
type Orchestrator struct {
	deps Deps
}

// New constructs an Orchestrator. Logger, Clock, IDs, Jobs, Users,
// Queue, and Gateways are required.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Jobs == nil:
		return nil, fmt.Errorf("job store is required")
	case deps.Users == nil:
		return nil, fmt.Errorf("user store is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	case deps.Gateways == nil:
		return nil, fmt.Errorf("gateway factory is required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	}
	return &Orchestrator{deps: deps}, nil
}

// creditCost prices a submission: one credit per URL on the basic
// tier, five on stealth. Query-driven modes count as one URL.
func creditCost(opts research.JobOptions) int {
	urls := len(opts.URLs)
	if urls == 0 {
		urls = 1
	}
	return urls * research.CreditsPerURL(opts.Proxy)
}

// Submit debits the user's quota, persists a pending job, and enqueues
// it. Credits are charged at submission and not refunded on failure.
func (o *Orchestrator) Submit(ctx context.Context, userID, query, domain string, opts research.JobOptions) (*research.Job, error) {
	user, err := o.deps.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}
	if !user.Active {
		return nil, research.ErrUserInactive
	}
	if opts.Mode == "" {
		opts.Mode = research.ModeResearch
	}
	if err := validateSubmission(query, domain, opts); err != nil {
		return nil, err
	}

	credits := creditCost(opts)
	if err := o.deps.Users.ConsumeCredits(ctx, userID, credits); err != nil {
		return nil, err
	}
	metrics.ObserveCreditsConsumed(credits)

	job := &research.Job{
		ID:          o.deps.IDs.NewID(),
		UserID:      userID,
		Query:       query,
		Domain:      domain,
		Status:      research.StatusPending,
		Options:     opts,
		CreditsUsed: credits,
		CreatedAt:   o.deps.Clock.Now(),
	}
	if err := o.deps.Jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	item := research.QueueItem{
		JobID:     job.ID,
		UserID:    userID,
		Submitted: job.CreatedAt,
	}
	if err := o.deps.Queue.Enqueue(ctx, item); err != nil {
		// The job exists but cannot run; fail it so the debit is
		// visible in the job record.
		if uerr := o.deps.Jobs.UpdateJobStatus(ctx, job.ID, research.StatusFailed, err.Error()); uerr != nil {
			o.deps.Logger.Error("failed to mark unqueueable job",
				zap.String("job_id", job.ID), zap.Error(uerr))
		}
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	o.deps.Logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID),
		zap.String("mode", string(opts.Mode)),
		zap.Int("credits", credits))
	return job, nil
}

func validateSubmission(query, domain string, opts research.JobOptions) error {
	switch opts.Mode {
	case research.ModeResearch:
		if query == "" {
			return fmt.Errorf("research jobs need a query")
		}
	case research.ModeBatch:
		if len(opts.URLs) == 0 {
			return fmt.Errorf("batch jobs need at least one url")
		}
	case research.ModeMap:
		if domain == "" && len(opts.URLs) == 0 {
			return fmt.Errorf("map jobs need a domain or root url")
		}
	case research.ModeSearchExtract:
		if query == "" {
			return fmt.Errorf("search-extract jobs need a query")
		}
	default:
		return fmt.Errorf("unknown job mode %q", opts.Mode)
	}
	return nil
}

// Run executes one job to a terminal state. Any panic in a mode runner
// is converted to a failed job rather than taking down the worker.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return nil
	}

	started := o.deps.Clock.Now()
	if err := o.deps.Jobs.UpdateJobStatus(ctx, job.ID, research.StatusRunning, ""); err != nil {
		return fmt.Errorf("starting job %s: %w", jobID, err)
	}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("job panicked: %v", r)
			o.deps.Logger.Error("job panicked",
				zap.String("job_id", job.ID), zap.Any("panic", r))
			o.finish(ctx, job, research.StatusFailed, msg, started)
		}
	}()

	user, err := o.deps.Users.GetUser(ctx, job.UserID)
	if err != nil {
		o.finish(ctx, job, research.StatusFailed, fmt.Sprintf("resolving user: %s", err), started)
		return nil
	}

	run := &jobRun{
		o:    o,
		job:  job,
		gw:   o.deps.Gateways(user.ProviderKey),
		pad:  o.newScratchpad(job),
		eng:  o.newEngine(user),
		log:  o.deps.Logger.With(zap.String("job_id", job.ID)),
	}

	status, errMsg := run.execute(ctx)
	o.finish(ctx, job, status, errMsg, started)
	return nil
}

// ProviderStatus fetches the provider's current view of a job's async
// crawl or batch, using the provider job id recorded when the run
// started. Jobs that never received a provider handle report an error.
func (o *Orchestrator) ProviderStatus(ctx context.Context, jobID string) (gateway.Document, error) {
	job, err := o.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if job.ProviderJobID == "" {
		return nil, fmt.Errorf("job %s has no provider job id", jobID)
	}
	user, err := o.deps.Users.GetUser(ctx, job.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}
	gw := o.deps.Gateways(user.ProviderKey)
	if job.Options.Mode == research.ModeBatch {
		return gw.CheckBatchStatus(ctx, job.ProviderJobID), nil
	}
	return gw.CheckCrawlStatus(ctx, job.ProviderJobID), nil
}

func (o *Orchestrator) newScratchpad(job *research.Job) *scratchpad.Service {
	if o.deps.Scratch == nil || o.deps.Index == nil {
		return nil
	}
	// The job ID doubles as the session ID so every artifact of one
	// run shares an index collection.
	return scratchpad.NewService(o.deps.Scratch, o.deps.Index, o.deps.Clock,
		o.deps.IDs, o.deps.Logger, job.UserID, job.ID)
}

func (o *Orchestrator) newEngine(user *research.User) *synthesis.Engine {
	if o.deps.Completers == nil {
		return nil
	}
	completer := o.deps.Completers(user.AnthropicKey)
	if completer == nil {
		return nil
	}
	return synthesis.New(completer, o.deps.Logger)
}

// finish drives the job to a terminal state and emits the completion
// event. A best-effort path: the status write is the source of truth
// and event trouble only logs.
func (o *Orchestrator) finish(ctx context.Context, job *research.Job, status research.JobStatus, errMsg string, started time.Time) {
	if err := o.deps.Jobs.UpdateJobStatus(ctx, job.ID, status, errMsg); err != nil {
		o.deps.Logger.Error("failed to finalize job",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	duration := o.deps.Clock.Now().Sub(started)
	metrics.ObserveJob(string(job.Options.Mode), string(status), duration)
	o.deps.Logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Duration("duration", duration))

	o.publishCompletion(ctx, job, status, errMsg)
}

// CompletionEvent is the payload published when a job reaches a
// terminal state.
type CompletionEvent struct {
	JobID        string    `json:"job_id"`
	UserID       string    `json:"user_id"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

func (o *Orchestrator) publishCompletion(ctx context.Context, job *research.Job, status research.JobStatus, errMsg string) {
	if o.deps.Publisher == nil || o.deps.CompletionTopic == "" {
		return
	}
	event := CompletionEvent{
		JobID:        job.ID,
		UserID:       job.UserID,
		Mode:         string(job.Options.Mode),
		Status:       string(status),
		ErrorMessage: errMsg,
		CompletedAt:  o.deps.Clock.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		o.deps.Logger.Error("failed to encode completion event", zap.Error(err))
		return
	}
	if err := o.deps.Publisher.Publish(ctx, o.deps.CompletionTopic, data); err != nil {
		o.deps.Logger.Warn("failed to publish completion event",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}
