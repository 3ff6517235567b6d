package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Report is one diagnosis produced by the analysis worker. Rows are created
// once and mutated only by the review correction endpoint.
type Report struct {
	ID               int64      `json:"id" db:"id"`
	ReportUUID       uuid.UUID  `json:"report_uuid" db:"report_uuid"`
	FarmerIDHash     string     `json:"farmer_id_hash" db:"farmer_id_hash"`
	ImageURL         string     `json:"image_url" db:"image_url"`
	ImageStorageKey  string     `json:"image_storage_key" db:"image_storage_key"`
	CropHint         string     `json:"crop_hint,omitempty" db:"crop_hint"`
	UserMessage      string     `json:"user_message,omitempty" db:"user_message"`
	PredictedDisease string     `json:"predicted_disease" db:"predicted_disease"`
	DiseaseSwahili   string     `json:"predicted_disease_sw" db:"predicted_disease_sw"`
	Confidence       float64    `json:"confidence" db:"confidence"`
	Severity         string     `json:"severity" db:"severity"`
	SeverityScore    float64    `json:"severity_score" db:"severity_score"`
	AdviceEN         string     `json:"advice_en" db:"advice_en"`
	AdviceSW         string     `json:"advice_sw" db:"advice_sw"`
	NeedsHumanReview bool       `json:"needs_human_review" db:"needs_human_review"`
	CorrectedDisease string     `json:"corrected_disease,omitempty" db:"corrected_disease"`
	CorrectionNotes  string     `json:"correction_notes,omitempty" db:"correction_notes"`
	ReviewedBy       string     `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt       *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	Status           string     `json:"status" db:"status"` // pending, reviewed
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// FarmerInteraction tracks per-sender activity keyed by the hashed sender id.
// The counter only ever increases.
type FarmerInteraction struct {
	FarmerIDHash    string    `json:"farmer_id_hash" db:"farmer_id_hash"`
	LastInteraction time.Time `json:"last_interaction" db:"last_interaction"`
	TotalReports    int64     `json:"total_reports" db:"total_reports"`
}

// AnalysisJob is the queue payload. FarmerID is the raw sender id, carried
// only so the worker can reply; it is never persisted outside the queue.
type AnalysisJob struct {
	FarmerID        string  `json:"farmer_id"`
	ImageURL        string  `json:"image_url"`
	ImageStorageKey string  `json:"image_storage_key"`
	CropHint        string  `json:"crop_hint,omitempty"`
	UserMessage     string  `json:"user_message,omitempty"`
	Location        *GeoPos `json:"location,omitempty"`
	// Attempt counts prior failed deliveries; the worker bumps it when it
	// re-enqueues a failed job.
	Attempt int `json:"attempt,omitempty"`
}

type GeoPos struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Prediction is the normalized top result from the inference service.
type Prediction struct {
	Disease        string  `json:"disease"`
	DiseaseSwahili string  `json:"disease_sw"`
	Confidence     float64 `json:"confidence"`
	Severity       string  `json:"severity"`
	AdviceEN       string  `json:"advice_en"`
	AdviceSW       string  `json:"advice_sw"`
}

// ReportFilter narrows a report listing. Zero values mean "no filter".
type ReportFilter struct {
	Disease     string
	Status      string
	NeedsReview *bool
	Limit       int
	Offset      int
}

type OverviewStats struct {
	TotalReports  int64   `json:"total_reports"`
	NeedsReview   int64   `json:"needs_review"`
	Last24h       int64   `json:"last_24h"`
	Last7d        int64   `json:"last_7d"`
	UniqueFarmers int64   `json:"unique_farmers"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// HashFarmerID one-way hashes a raw sender id so contact data is never
// persisted.
func HashFarmerID(farmerID string) string {
	sum := sha256.Sum256([]byte(farmerID))
	return hex.EncodeToString(sum[:])
}

// NeedsReview reports whether a prediction with the given confidence must be
// routed to a human reviewer.
func NeedsReview(confidence, threshold float64) bool {
	return confidence < threshold
}

// SeverityScore derives a numeric score from the categorical severity.
func SeverityScore(severity string) float64 {
	if severity == "severe" {
		return 0.8
	}
	return 0.5
}
