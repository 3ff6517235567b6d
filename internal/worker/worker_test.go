package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cropdoctor/internal/models"
	"cropdoctor/internal/queue"
	"cropdoctor/internal/storage"
)

type fakePredictor struct {
	mu         sync.Mutex
	prediction *models.Prediction
	err        error
	failures   int // fail this many calls before succeeding
	gotHint    string
}

func (f *fakePredictor) Predict(_ context.Context, _, cropHint string) (*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotHint = cropHint
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("model unavailable")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.prediction, nil
}

type fakeStore struct {
	mu        sync.Mutex
	existing  *models.Report
	createErr error
	created   []storage.CreateReportParams
	nextID    int64
}

func (f *fakeStore) CreateReport(_ context.Context, p storage.CreateReportParams) (*models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, p)
	f.nextID++
	return &models.Report{
		ID:               f.nextID,
		ReportUUID:       uuid.New(),
		FarmerIDHash:     p.FarmerIDHash,
		ImageURL:         p.ImageURL,
		ImageStorageKey:  p.ImageStorageKey,
		CropHint:         p.CropHint,
		PredictedDisease: p.Prediction.Disease,
		DiseaseSwahili:   p.Prediction.DiseaseSwahili,
		Confidence:       p.Prediction.Confidence,
		Severity:         p.Prediction.Severity,
		SeverityScore:    models.SeverityScore(p.Prediction.Severity),
		AdviceEN:         p.Prediction.AdviceEN,
		AdviceSW:         p.Prediction.AdviceSW,
		NeedsHumanReview: models.NeedsReview(p.Prediction.Confidence, 0.65),
		Status:           "pending",
	}, nil
}

func (f *fakeStore) FindReportByStorageKey(_ context.Context, key string) (*models.Report, error) {
	if f.existing != nil && f.existing.ImageStorageKey == key {
		return f.existing, nil
	}
	return nil, fmt.Errorf("lookup: %w", storage.ErrNotFound)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	to   []string
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	f.sent = append(f.sent, text)
	return f.err
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeRequeuer struct {
	mu   sync.Mutex
	jobs []models.AnalysisJob
	err  error
	// feed, when set, returns re-enqueued jobs to this source so the pool
	// fetches them again like a real topic would.
	feed *fakeSource
}

func (f *fakeRequeuer) Enqueue(_ context.Context, job models.AnalysisJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	if f.feed != nil {
		f.feed.jobs <- queue.Job{Payload: job}
	}
	return nil
}

type fakeSource struct {
	jobs    chan queue.Job
	commits atomic.Int32
}

func (f *fakeSource) Fetch(ctx context.Context) (queue.Job, error) {
	select {
	case job := <-f.jobs:
		return job, nil
	case <-ctx.Done():
		return queue.Job{}, ctx.Err()
	}
}

func (f *fakeSource) Commit(_ context.Context, _ queue.Job) error {
	f.commits.Add(1)
	return nil
}

func testJob() models.AnalysisJob {
	return models.AnalysisJob{
		FarmerID:        "255700000001",
		ImageURL:        "http://storage/files/images/abc.jpg",
		ImageStorageKey: "images/abc.jpg",
		CropHint:        "maize",
		UserMessage:     "mahindi yangu",
	}
}

func maizePrediction(confidence float64) *models.Prediction {
	return &models.Prediction{
		Disease:        "Northern Leaf Blight",
		DiseaseSwahili: "Ukungu wa Kaskazini",
		Confidence:     confidence,
		Severity:       "severe",
		AdviceEN:       "Use resistant varieties.",
		AdviceSW:       "Tumia aina zinazostahimili.",
	}
}

func newTestPool(pred Predictor, store ReportStore, n *fakeNotifier) *Pool {
	return NewPool(nil, nil, pred, store, n, 1, zap.NewNop())
}

func TestProcessHighConfidence(t *testing.T) {
	pred := &fakePredictor{prediction: maizePrediction(0.9)}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	pool := newTestPool(pred, store, notifier)

	err := pool.Process(context.Background(), testJob())
	require.NoError(t, err)

	require.Len(t, store.created, 1)
	created := store.created[0]
	assert.Equal(t, models.HashFarmerID("255700000001"), created.FarmerIDHash)
	assert.Equal(t, "maize", pred.gotHint)

	require.Len(t, notifier.sent, 1)
	msg := notifier.sent[0]
	assert.Equal(t, "255700000001", notifier.to[0])
	assert.Contains(t, msg, "Northern Leaf Blight")
	assert.Contains(t, msg, "Ukungu wa Kaskazini")
	assert.NotContains(t, msg, "Low Confidence")
}

func TestProcessLowConfidence(t *testing.T) {
	pred := &fakePredictor{prediction: maizePrediction(0.4)}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	pool := newTestPool(pred, store, notifier)

	err := pool.Process(context.Background(), testJob())
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "Low Confidence")
	assert.Contains(t, notifier.sent[0], "A specialist will review this")
}

func TestProcessInferenceFailure(t *testing.T) {
	pred := &fakePredictor{err: errors.New("model unavailable")}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	pool := newTestPool(pred, store, notifier)

	err := pool.Process(context.Background(), testJob())
	require.Error(t, err)

	// Nothing is persisted and no notice goes out yet; retries and the
	// final notice belong to the consume loop.
	assert.Empty(t, store.created)
	assert.Empty(t, notifier.sent)
}

func TestProcessPersistenceFailure(t *testing.T) {
	pred := &fakePredictor{prediction: maizePrediction(0.9)}
	store := &fakeStore{createErr: errors.New("db down")}
	notifier := &fakeNotifier{}
	pool := newTestPool(pred, store, notifier)

	err := pool.Process(context.Background(), testJob())
	require.Error(t, err)
	assert.Empty(t, notifier.sent)
}

func TestProcessRedeliveredJobSkipsInsert(t *testing.T) {
	existing := &models.Report{
		ID:               7,
		ReportUUID:       uuid.New(),
		ImageStorageKey:  "images/abc.jpg",
		PredictedDisease: "Northern Leaf Blight",
		DiseaseSwahili:   "Ukungu wa Kaskazini",
		Confidence:       0.9,
		Severity:         "severe",
	}
	pred := &fakePredictor{prediction: maizePrediction(0.9)}
	store := &fakeStore{existing: existing}
	notifier := &fakeNotifier{}
	pool := newTestPool(pred, store, notifier)

	err := pool.Process(context.Background(), testJob())
	require.NoError(t, err)

	assert.Empty(t, store.created, "redelivered job must not create a duplicate report")
	require.Len(t, notifier.sent, 1, "reply is still sent on redelivery")
	assert.Contains(t, notifier.sent[0], existing.ReportUUID.String()[:8])
}

func TestRetryRequeuesBeforeCommit(t *testing.T) {
	source := &fakeSource{jobs: make(chan queue.Job, 1)}
	requeue := &fakeRequeuer{}
	pool := NewPool(source, requeue, nil, nil, &fakeNotifier{}, 1, zap.NewNop())

	pool.retryOrDrop(context.Background(), queue.Job{Payload: testJob()})

	require.Len(t, requeue.jobs, 1)
	assert.Equal(t, 1, requeue.jobs[0].Attempt)
	assert.Equal(t, int32(1), source.commits.Load(), "offset commits once the retry is on the topic")
}

func TestRetryOutOfAttemptsDropsWithNotice(t *testing.T) {
	source := &fakeSource{jobs: make(chan queue.Job, 1)}
	requeue := &fakeRequeuer{}
	notifier := &fakeNotifier{}
	pool := NewPool(source, requeue, nil, nil, notifier, 1, zap.NewNop())

	job := testJob()
	job.Attempt = maxAttempts - 1
	pool.retryOrDrop(context.Background(), queue.Job{Payload: job})

	assert.Empty(t, requeue.jobs)
	assert.Equal(t, int32(1), source.commits.Load())
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "tatizo la kiufundi")
	assert.Contains(t, notifier.sent[0], "technical issue")
}

func TestRetryEnqueueFailureLeavesOffsetUncommitted(t *testing.T) {
	source := &fakeSource{jobs: make(chan queue.Job, 1)}
	requeue := &fakeRequeuer{err: errors.New("broker down")}
	pool := NewPool(source, requeue, nil, nil, &fakeNotifier{}, 1, zap.NewNop())

	pool.retryOrDrop(context.Background(), queue.Job{Payload: testJob()})

	assert.Equal(t, int32(0), source.commits.Load(), "unretryable job must stay fetchable")
}

// A job whose first delivery fails must come back around: offsets 10,11 on one
// partition with 10 failing once would otherwise be skipped forever once 11's
// commit raises the group watermark.
func TestPoolRetriesFailedJobToCompletion(t *testing.T) {
	source := &fakeSource{jobs: make(chan queue.Job, 4)}
	requeue := &fakeRequeuer{feed: source}
	source.jobs <- queue.Job{Payload: testJob()}

	pred := &fakePredictor{prediction: maizePrediction(0.9), failures: 1}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	pool := NewPool(source, requeue, pred, store, notifier, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	// One commit for the failed delivery (after its retry hit the topic),
	// one for the successful redelivery.
	require.Eventually(t, func() bool {
		return source.commits.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}

	require.Len(t, requeue.jobs, 1)
	assert.Equal(t, 1, requeue.jobs[0].Attempt)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.created, 1, "the retried job produces exactly one report")

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0], "technical issue", "a recovered job sends only the diagnosis")
}

func TestPoolRunProcessesAndDrains(t *testing.T) {
	source := &fakeSource{jobs: make(chan queue.Job, 3)}
	for i := 0; i < 3; i++ {
		source.jobs <- queue.Job{Payload: testJob()}
	}

	pred := &fakePredictor{prediction: maizePrediction(0.9)}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	pool := NewPool(source, &fakeRequeuer{}, pred, store, notifier, 2, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return source.commits.Load() == 3
	}, 2*time.Second, 10*time.Millisecond, "all queued jobs should be processed and committed")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}
