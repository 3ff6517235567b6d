package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cropdoctor/internal/middleware"
	"cropdoctor/internal/models"
	"cropdoctor/internal/storage"
)

func (s *Server) handleListReports(c *gin.Context) {
	filter := models.ReportFilter{
		Disease: c.Query("crop"),
		Status:  c.Query("status"),
	}
	if v := c.Query("needsReview"); v != "" {
		needsReview := v == "true"
		filter.NeedsReview = &needsReview
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	reports, total, err := s.store.ListReports(c.Request.Context(), filter)
	if err != nil {
		s.log.Error("Error fetching reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch reports"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (s *Server) handleGetReport(c *gin.Context) {
	report, err := s.store.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
			return
		}
		s.log.Error("Error fetching report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

type correctRequest struct {
	CorrectedDisease string `json:"correctedDisease" binding:"required"`
	Notes            string `json:"notes"`
}

func (s *Server) handleCorrectReport(c *gin.Context) {
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "correctedDisease is required"})
		return
	}

	reviewerID := c.GetString(middleware.ReviewerKey)
	report, err := s.store.CorrectReport(c.Request.Context(), c.Param("id"),
		req.CorrectedDisease, req.Notes, reviewerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
			return
		}
		s.log.Error("Error correcting report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to correct report"})
		return
	}

	s.log.Info("Report corrected",
		zap.Int64("report_id", report.ID),
		zap.String("reviewer", reviewerID))
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.OverviewStats(c.Request.Context())
	if err != nil {
		s.log.Error("Error fetching stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
