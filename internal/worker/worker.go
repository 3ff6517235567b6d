package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"cropdoctor/internal/models"
	"cropdoctor/internal/notify"
	"cropdoctor/internal/queue"
	"cropdoctor/internal/storage"
)

// Predictor calls the inference service.
type Predictor interface {
	Predict(ctx context.Context, imageURL, cropHint string) (*models.Prediction, error)
}

// ReportStore is the slice of storage the worker needs.
type ReportStore interface {
	CreateReport(ctx context.Context, p storage.CreateReportParams) (*models.Report, error)
	FindReportByStorageKey(ctx context.Context, key string) (*models.Report, error)
}

// JobSource yields analysis jobs and acknowledges them once handled.
type JobSource interface {
	Fetch(ctx context.Context) (queue.Job, error)
	Commit(ctx context.Context, job queue.Job) error
}

// Requeuer returns a failed job to the topic for another attempt.
type Requeuer interface {
	Enqueue(ctx context.Context, job models.AnalysisJob) error
}

// maxAttempts bounds how many times one job is tried before it is dropped
// and the sender gets the technical-issue notice.
const maxAttempts = 3

// Pool runs N concurrent consumers over the shared job source.
type Pool struct {
	source      JobSource
	requeue     Requeuer
	predictor   Predictor
	store       ReportStore
	notifier    notify.Notifier
	concurrency int
	log         *zap.Logger
}

func NewPool(source JobSource, requeue Requeuer, predictor Predictor, store ReportStore, notifier notify.Notifier, concurrency int, log *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Pool{
		source:      source,
		requeue:     requeue,
		predictor:   predictor,
		store:       store,
		notifier:    notifier,
		concurrency: concurrency,
		log:         log,
	}
}

// Run blocks until ctx is canceled. In-flight jobs finish before it returns;
// no job is abandoned mid-processing.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) consume(ctx context.Context) {
	for {
		job, err := p.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("Error fetching job", zap.Error(err))
			continue
		}

		// In-flight jobs run to completion even during shutdown.
		jobCtx := context.WithoutCancel(ctx)
		if err := p.Process(jobCtx, job.Payload); err != nil {
			p.log.Error("Job failed", zap.Error(err),
				zap.String("storage_key", job.Payload.ImageStorageKey),
				zap.Int("attempt", job.Payload.Attempt+1))
			p.retryOrDrop(jobCtx, job)
			continue
		}

		p.commit(jobCtx, job)
	}
}

// retryOrDrop re-enqueues a failed job with a bumped attempt counter and only
// then commits its offset. The consumer group keeps a single cumulative
// watermark per partition, so skipping the commit would not hold the job: a
// later commit from any goroutine would cover it. Writing the retry to the
// topic first means the job survives the commit. Jobs out of attempts get the
// technical-issue notice and are dropped; if the re-enqueue itself fails the
// offset stays uncommitted so a restart or rebalance fetches the job again.
func (p *Pool) retryOrDrop(ctx context.Context, job queue.Job) {
	payload := job.Payload
	if payload.Attempt+1 >= maxAttempts {
		p.log.Error("Job out of attempts, dropping",
			zap.String("storage_key", payload.ImageStorageKey))
		p.notifyFailure(ctx, payload.FarmerID)
		p.commit(ctx, job)
		return
	}

	payload.Attempt++
	if err := p.requeue.Enqueue(ctx, payload); err != nil {
		p.log.Error("Error re-enqueueing job", zap.Error(err),
			zap.String("storage_key", payload.ImageStorageKey))
		return
	}
	p.commit(ctx, job)
}

func (p *Pool) commit(ctx context.Context, job queue.Job) {
	if err := p.source.Commit(ctx, job); err != nil {
		p.log.Error("Error committing job", zap.Error(err))
	}
}

// Process handles one analysis job: inference, persistence, then the
// bilingual reply. Failures are returned to the caller, which owns retries
// and the final technical-issue notice.
func (p *Pool) Process(ctx context.Context, job models.AnalysisJob) error {
	prediction, err := p.predictor.Predict(ctx, job.ImageURL, job.CropHint)
	if err != nil {
		return err
	}

	p.log.Info("Prediction received",
		zap.String("disease", prediction.Disease),
		zap.Float64("confidence", prediction.Confidence))

	// The raw sender id never leaves the queue; only its hash is persisted.
	farmerIDHash := models.HashFarmerID(job.FarmerID)

	report, err := p.store.FindReportByStorageKey(ctx, job.ImageStorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		report, err = p.store.CreateReport(ctx, storage.CreateReportParams{
			FarmerIDHash:    farmerIDHash,
			ImageURL:        job.ImageURL,
			ImageStorageKey: job.ImageStorageKey,
			CropHint:        job.CropHint,
			UserMessage:     job.UserMessage,
			Prediction:      *prediction,
		})
		if err != nil {
			return err
		}
	} else {
		p.log.Info("Job redelivered for an existing report, skipping insert",
			zap.Int64("report_id", report.ID))
	}

	message := notify.ComposeDiagnosis(report)
	if err := p.notifier.Send(ctx, job.FarmerID, message); err != nil {
		return err
	}

	p.log.Info("Job completed", zap.Int64("report_id", report.ID),
		zap.Bool("needs_review", report.NeedsHumanReview))
	return nil
}

func (p *Pool) notifyFailure(ctx context.Context, farmerID string) {
	if err := p.notifier.Send(ctx, farmerID, notify.MsgTechnicalIssue); err != nil {
		p.log.Error("Error sending failure notice", zap.Error(err))
	}
}
