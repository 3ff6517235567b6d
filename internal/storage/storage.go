package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"cropdoctor/internal/models"
)

// ErrNotFound is returned when a report lookup matches no row.
var ErrNotFound = errors.New("report not found")

type Storage struct {
	pool      *pgxpool.Pool
	db        *sql.DB // For migrations
	threshold float64
}

// CreateReportParams carries everything needed to persist one diagnosis.
type CreateReportParams struct {
	FarmerIDHash    string
	ImageURL        string
	ImageStorageKey string
	CropHint        string
	UserMessage     string
	Prediction      models.Prediction
}

func NewStorage(dsn string, confidenceThreshold float64, log *zap.Logger) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db, log); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	return &Storage{pool: pool, db: db, threshold: confidenceThreshold}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const reportColumns = `id, report_uuid, farmer_id_hash, image_url, image_storage_key,
	COALESCE(crop_hint, ''), COALESCE(user_message, ''),
	predicted_disease, predicted_disease_sw, confidence, severity, severity_score,
	advice_en, advice_sw, needs_human_review,
	COALESCE(corrected_disease, ''), COALESCE(correction_notes, ''), COALESCE(reviewed_by, ''),
	reviewed_at, status, created_at, updated_at`

func scanReport(row pgx.Row) (*models.Report, error) {
	var r models.Report
	err := row.Scan(&r.ID, &r.ReportUUID, &r.FarmerIDHash, &r.ImageURL, &r.ImageStorageKey,
		&r.CropHint, &r.UserMessage,
		&r.PredictedDisease, &r.DiseaseSwahili, &r.Confidence, &r.Severity, &r.SeverityScore,
		&r.AdviceEN, &r.AdviceSW, &r.NeedsHumanReview,
		&r.CorrectedDisease, &r.CorrectionNotes, &r.ReviewedBy,
		&r.ReviewedAt, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReport inserts a new report, assigning its public UUID and setting
// needs_human_review from the configured confidence threshold.
func (s *Storage) CreateReport(ctx context.Context, p CreateReportParams) (*models.Report, error) {
	const op = "storage.CreateReport"

	needsReview := models.NeedsReview(p.Prediction.Confidence, s.threshold)
	row := s.pool.QueryRow(ctx,
		`INSERT INTO reports (
			report_uuid, farmer_id_hash, image_url, image_storage_key, crop_hint, user_message,
			predicted_disease, predicted_disease_sw, confidence, severity, severity_score,
			advice_en, advice_sw, needs_human_review
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+reportColumns,
		uuid.New(), p.FarmerIDHash, p.ImageURL, p.ImageStorageKey, p.CropHint, p.UserMessage,
		p.Prediction.Disease, p.Prediction.DiseaseSwahili, p.Prediction.Confidence,
		p.Prediction.Severity, models.SeverityScore(p.Prediction.Severity),
		p.Prediction.AdviceEN, p.Prediction.AdviceSW, needsReview)

	report, err := scanReport(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return report, nil
}

// FindReportByStorageKey returns an existing report for the given image
// storage key, or ErrNotFound. Used by the worker to keep redelivered jobs
// from producing duplicate rows.
func (s *Storage) FindReportByStorageKey(ctx context.Context, key string) (*models.Report, error) {
	const op = "storage.FindReportByStorageKey"

	row := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE image_storage_key = $1 ORDER BY created_at LIMIT 1`, key)
	report, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return report, nil
}

// UpsertInteraction records one inbound message from a sender. The increment
// happens in the database so concurrent writers never lose updates.
func (s *Storage) UpsertInteraction(ctx context.Context, farmerIDHash string) error {
	const op = "storage.UpsertInteraction"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO farmer_interactions (farmer_id_hash, last_interaction, total_reports)
		 VALUES ($1, NOW(), 1)
		 ON CONFLICT (farmer_id_hash)
		 DO UPDATE SET last_interaction = NOW(), total_reports = farmer_interactions.total_reports + 1`,
		farmerIDHash)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

// ListReports returns reports newest-first along with the total row count for
// the same filter.
func (s *Storage) ListReports(ctx context.Context, f models.ReportFilter) ([]models.Report, int64, error) {
	const op = "storage.ListReports"

	where := []string{"1=1"}
	args := []any{}
	if f.Disease != "" {
		args = append(args, "%"+f.Disease+"%")
		where = append(where, fmt.Sprintf("predicted_disease ILIKE $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.NeedsReview != nil {
		args = append(args, *f.NeedsReview)
		where = append(where, fmt.Sprintf("needs_human_review = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reports WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: %v", op, err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM reports WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			reportColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %v", op, err)
	}
	defer rows.Close()

	reports := []models.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %v", op, err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %v", op, err)
	}
	return reports, total, nil
}

// GetReport accepts either the surrogate id or the public UUID.
func (s *Storage) GetReport(ctx context.Context, idOrUUID string) (*models.Report, error) {
	const op = "storage.GetReport"

	row := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id::text = $1 OR report_uuid::text = $1`, idOrUUID)
	report, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return report, nil
}

// CorrectReport records a human correction, clears the review flag and stamps
// the reviewer. A repeated correction overwrites the previous one and keeps
// the flag cleared.
func (s *Storage) CorrectReport(ctx context.Context, idOrUUID, correctedDisease, notes, reviewerID string) (*models.Report, error) {
	const op = "storage.CorrectReport"

	row := s.pool.QueryRow(ctx,
		`UPDATE reports
		 SET corrected_disease = $1,
		     correction_notes = $2,
		     reviewed_by = $3,
		     reviewed_at = NOW(),
		     needs_human_review = false,
		     status = 'reviewed',
		     updated_at = NOW()
		 WHERE id::text = $4 OR report_uuid::text = $4
		 RETURNING `+reportColumns,
		correctedDisease, notes, reviewerID, idOrUUID)
	report, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return report, nil
}

// OverviewStats aggregates the dashboard counters in one query.
func (s *Storage) OverviewStats(ctx context.Context) (*models.OverviewStats, error) {
	const op = "storage.OverviewStats"

	var st models.OverviewStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE needs_human_review = true),
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '7 days'),
			COUNT(DISTINCT farmer_id_hash),
			COALESCE(AVG(confidence), 0)
		FROM reports`).
		Scan(&st.TotalReports, &st.NeedsReview, &st.Last24h, &st.Last7d, &st.UniqueFarmers, &st.AvgConfidence)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &st, nil
}
