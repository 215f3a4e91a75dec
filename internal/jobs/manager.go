// Package jobs turns ingestion into tracked, asynchronous units of work.
// The server submits jobs, the worker runs them, and clients poll or wait
// for a terminal status.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sd8capricon/graph-rag/internal/util"
	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/graph"
	"github.com/sd8capricon/graph-rag/pkg/leaselock"
	"github.com/sd8capricon/graph-rag/pkg/loader"
	"github.com/sd8capricon/graph-rag/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var ErrNoFiles = errors.New("job has no files")

// Store persists jobs.
type Store interface {
	CreateJob(ctx context.Context, job *common.Job) error
	GetJob(ctx context.Context, id string) (*common.Job, error)
	UpdateJob(ctx context.Context, job *common.Job) error
	StaleJobs(ctx context.Context, olderThan time.Duration, limit int) ([]common.Job, error)
	RequeueJob(ctx context.Context, id string) (bool, error)
}

// Publisher hands a message to the job transport.
type Publisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

// Locker serializes work on one key across workers.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Runner ingests files into a knowledge base. *graph.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, kb *common.KnowledgeBase, files []loader.GraphFile) (*graph.PipelineResult, error)
}

// Message is the queue payload announcing a job.
type Message struct {
	JobID string `json:"job_id"`
}

// DefaultLease holds a knowledge base for ten minutes, renewed every four.
var DefaultLease = leaselock.Options{
	TTL:         10 * time.Minute,
	RenewEvery:  4 * time.Minute,
	Wait:        true,
	TokenPrefix: "ingest-",
}

type Manager struct {
	registry  graph.KnowledgeBaseRegistry
	store     Store
	publisher Publisher
	locker    Locker
	runner    Runner
	loader    loader.GraphFileLoader
	queueName string
	lease     leaselock.Options
}

type NewManagerParams struct {
	Registry  graph.KnowledgeBaseRegistry
	Store     Store
	Publisher Publisher
	Locker    Locker
	Runner    Runner
	// Loader resolves file paths at run time, usually a *loader.Router.
	Loader    loader.GraphFileLoader
	QueueName string
	Lease     *leaselock.Options
}

func NewManager(params NewManagerParams) *Manager {
	lease := DefaultLease
	if params.Lease != nil {
		lease = *params.Lease
	}
	queueName := params.QueueName
	if queueName == "" {
		queueName = "ingest_queue"
	}
	return &Manager{
		registry:  params.Registry,
		store:     params.Store,
		publisher: params.Publisher,
		locker:    params.Locker,
		runner:    params.Runner,
		loader:    params.Loader,
		queueName: queueName,
		lease:     lease,
	}
}

// Submit registers kb, stores a queued job for files and publishes it.
// Files without an id get a fresh one.
func (m *Manager) Submit(ctx context.Context, kb *common.KnowledgeBase, files []common.JobFile) (*common.Job, error) {
	if kb == nil || kb.ID == "" {
		return nil, errors.New("knowledge base id is empty")
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	if err := m.registry.Upsert(ctx, kb); err != nil {
		return nil, fmt.Errorf("failed to register knowledge base: %w", err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	job := &common.Job{
		ID:              id,
		KnowledgeBaseID: kb.ID,
		Files:           make([]common.JobFile, len(files)),
		Status:          common.JobQueued,
	}
	for i, f := range files {
		if f.ID == "" {
			fid, err := gonanoid.New()
			if err != nil {
				return nil, err
			}
			f.ID = fid
		}
		job.Files[i] = f
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job: %w", err)
	}
	if err := m.publish(ctx, job.ID); err != nil {
		job.Status = common.JobFailed
		job.Error = "failed to enqueue job"
		if uerr := m.store.UpdateJob(ctx, job); uerr != nil {
			logger.Error("[Jobs] Failed to mark unpublished job", "job_id", job.ID, "err", uerr)
		}
		return nil, fmt.Errorf("failed to publish job: %w", err)
	}

	logger.Info("[Jobs] Submitted", "job_id", job.ID, "knowledge_base_id", kb.ID, "files", len(files))
	return job, nil
}

func (m *Manager) publish(ctx context.Context, jobID string) error {
	body, err := json.Marshal(Message{JobID: jobID})
	if err != nil {
		return err
	}
	return m.publisher.Publish(ctx, m.queueName, body)
}

// Status returns the stored job.
func (m *Manager) Status(ctx context.Context, jobID string) (*common.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// Run executes a queued job. A job that is already terminal is skipped.
//
// The returned error is non-nil only when the job should be retried: the
// job store failed, the lease was lost or ctx ended. Ingestion failures
// are recorded on the job instead.
func (m *Manager) Run(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		logger.Info("[Jobs] Skipping finished job", "job_id", job.ID, "status", job.Status)
		return nil
	}

	kb, err := m.registry.GetByID(ctx, job.KnowledgeBaseID)
	if err != nil {
		return fmt.Errorf("failed to load knowledge base: %w", err)
	}
	if kb == nil {
		return m.finish(ctx, job, common.JobFailed, fmt.Sprintf("knowledge base %s not found", job.KnowledgeBaseID))
	}

	job.Status = common.JobRunning
	job.Error = ""
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	start := time.Now()
	var result *graph.PipelineResult
	err = m.locker.WithLease(ctx, leaselock.KnowledgeBaseKey(kb.ID), m.lease, func(ctx context.Context) error {
		var runErr error
		result, runErr = m.runner.Run(ctx, kb, m.graphFiles(job.Files))
		return runErr
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if retryable(ctx, err) {
			logger.Warn("[Jobs] Run interrupted", "job_id", job.ID, "err", err)
			job.Status = common.JobQueued
			if uerr := m.store.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
				logger.Error("[Jobs] Failed to requeue job", "job_id", job.ID, "err", uerr)
			}
			return err
		}
		logger.Error("[Jobs] Run failed", "job_id", job.ID, "err", err)
		return m.finish(ctx, job, common.JobFailed, err.Error())
	}

	job.Results = make([]common.JobFileResult, 0, len(result.Files))
	for _, f := range result.Files {
		r := common.JobFileResult{FileID: f.File.ID, Chunks: f.Chunks}
		if f.Err != nil {
			r.Error = f.Err.Error()
		}
		job.Results = append(job.Results, r)
	}
	job.FilesFailed = result.Failed()

	status := finalStatus(len(result.Files), job.FilesFailed)
	msg := ""
	if rerr := result.Err(); rerr != nil {
		msg = rerr.Error()
	}
	logger.Info("[Jobs] Run finished",
		"job_id", job.ID,
		"status", status,
		"files", len(result.Files),
		"failed", job.FilesFailed,
		"duration", time.Since(start),
	)
	return m.finish(ctx, job, status, msg)
}

func (m *Manager) finish(ctx context.Context, job *common.Job, status common.JobStatus, msg string) error {
	job.Status = status
	job.Error = msg
	return util.RetryErrWithContext(context.WithoutCancel(ctx), 3, 500*time.Millisecond, func(ctx context.Context) error {
		return m.store.UpdateJob(ctx, job)
	})
}

// graphFiles binds every job file to the manager's loader.
func (m *Manager) graphFiles(files []common.JobFile) []loader.GraphFile {
	out := make([]loader.GraphFile, len(files))
	for i, f := range files {
		out[i] = loader.GraphFile{ID: f.ID, Name: f.Name, Path: f.Path, Loader: m.loader}
	}
	return out
}

func finalStatus(total, failed int) common.JobStatus {
	switch {
	case total > 0 && failed == total:
		return common.JobFailed
	case failed > 0:
		return common.JobCompletedPartial
	}
	return common.JobCompleted
}

func retryable(ctx context.Context, err error) bool {
	if errors.Is(err, leaselock.ErrLost) {
		return true
	}
	return ctx.Err() != nil
}

// Wait polls the job until it reaches a terminal status or ctx ends. On
// ctx expiry it returns the last observed job together with ctx's error.
func (m *Manager) Wait(ctx context.Context, jobID string, interval time.Duration) (*common.Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-t.C:
		}
	}
}

// Recover requeues jobs that stayed running longer than olderThan, which
// happens when a worker dies mid-run.
func (m *Manager) Recover(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := m.store.StaleJobs(ctx, olderThan, 100)
	if err != nil {
		return 0, fmt.Errorf("failed to get stale jobs: %w", err)
	}
	if len(stale) == 0 {
		logger.Debug("[Jobs] No stale jobs found")
		return 0, nil
	}

	recovered := 0
	for _, job := range stale {
		ok, err := m.store.RequeueJob(ctx, job.ID)
		if err != nil {
			logger.Error("[Jobs] Failed to reset stale job", "job_id", job.ID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		if err := m.publish(ctx, job.ID); err != nil {
			logger.Error("[Jobs] Failed to republish job", "job_id", job.ID, "err", err)
			continue
		}
		recovered++
		logger.Info("[Jobs] Recovered stale job", "job_id", job.ID, "knowledge_base_id", job.KnowledgeBaseID)
	}
	return recovered, nil
}
