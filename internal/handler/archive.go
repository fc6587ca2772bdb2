package handler

import (
	"errors"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"realtime-canvas/internal/archive"
)

// ArchiveHandler 지난 캔버스 조회 핸들러. 파일 싱크를 우선하고 없으면 DB 를 본다.
type ArchiveHandler struct {
	files  *archive.FileSink
	db     *archive.DBSink
	logger *zap.Logger
}

// NewArchiveHandler ArchiveHandler 생성 (files, db 모두 nil 가능)
func NewArchiveHandler(files *archive.FileSink, db *archive.DBSink, logger *zap.Logger) *ArchiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveHandler{files: files, db: db, logger: logger.Named("archive")}
}

// ArchiveSummary 목록 항목
type ArchiveSummary struct {
	ID          string `json:"id"`
	Date        string `json:"date,omitempty"`
	StartTime   int64  `json:"startTime,omitempty"`
	EndTime     int64  `json:"endTime,omitempty"`
	StrokeCount int    `json:"strokeCount"`
}

// ListArchives GET /api/archives?limit=N (최신 순)
func (h *ArchiveHandler) ListArchives(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 30)
	if limit <= 0 || limit > 365 {
		limit = 30
	}

	switch {
	case h.db != nil:
		recs, err := h.db.List(c.UserContext(), limit)
		if err != nil {
			h.logger.Error("failed to list archives", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to list archives",
			})
		}
		out := make([]ArchiveSummary, 0, len(recs))
		for _, r := range recs {
			out = append(out, ArchiveSummary{
				ID:          r.ID,
				Date:        r.Date,
				StartTime:   r.StartTime,
				EndTime:     r.EndTime,
				StrokeCount: r.StrokeCount,
			})
		}
		return c.JSON(fiber.Map{"archives": out})

	case h.files != nil:
		ids, err := h.files.List()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Error("failed to list archives", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to list archives",
			})
		}
		out := make([]ArchiveSummary, 0, limit)
		for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
			a, err := h.files.Read(ids[i])
			if err != nil {
				h.logger.Warn("skipping unreadable archive", zap.String("id", ids[i]), zap.Error(err))
				continue
			}
			out = append(out, ArchiveSummary{
				ID:          a.ID,
				Date:        a.Date,
				StartTime:   a.StartTime,
				EndTime:     a.EndTime,
				StrokeCount: a.StrokeCount,
			})
		}
		return c.JSON(fiber.Map{"archives": out})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "archive storage is not configured",
	})
}

// GetArchive GET /api/archives/:id
func (h *ArchiveHandler) GetArchive(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid archive id",
		})
	}

	if h.files != nil {
		a, err := h.files.Read(id)
		if err == nil {
			return c.JSON(a)
		}
		if !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("failed to read archive file", zap.String("id", id), zap.Error(err))
		}
	}
	if h.db != nil {
		a, err := h.db.Get(c.UserContext(), id)
		if err == nil {
			return c.JSON(a)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.logger.Error("failed to read archive", zap.String("id", id), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to read archive",
			})
		}
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "archive not found",
	})
}
