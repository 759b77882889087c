package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"horse.fit/fusion/internal/db"
)

type contentResponse struct {
	ID            int64      `json:"id"`
	UUID          string     `json:"uuid"`
	StoryNumber   int64      `json:"story_number"`
	CategoryID    *int64     `json:"category_id"`
	TitleEN       string     `json:"title_en"`
	TitleKH       string     `json:"title_kh"`
	ContentEN     string     `json:"content_en"`
	ContentKH     string     `json:"content_kh"`
	GeneratedFrom []int64    `json:"generated_from"`
	Version       int        `json:"version"`
	Status        string     `json:"status"`
	Published     bool       `json:"published"`
	PublishedAt   *time.Time `json:"published_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// handleGetContent looks a canonical content row up by its public UUID.
func (s *Server) handleGetContent(c echo.Context) error {
	parsed, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return failValidation(c, map[string]string{"id": "must be a content UUID"})
	}

	row, err := s.store.GetCanonicalByUUID(c.Request().Context(), parsed.String())
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Content not found")
		}
		s.logger.Error().Err(err).Str("canonical_uuid", parsed.String()).Msg("query content failed")
		return internalError(c, "Failed to load content")
	}

	generatedFrom := row.GeneratedFrom
	if generatedFrom == nil {
		generatedFrom = []int64{}
	}
	return success(c, map[string]any{
		"content": contentResponse{
			ID:            row.CanonicalID,
			UUID:          row.CanonicalUUID,
			StoryNumber:   row.StoryNumber,
			CategoryID:    row.CategoryID,
			TitleEN:       row.TitleEN,
			TitleKH:       row.TitleKH,
			ContentEN:     row.ContentEN,
			ContentKH:     row.ContentKH,
			GeneratedFrom: generatedFrom,
			Version:       row.Version,
			Status:        row.Status,
			Published:     row.Published,
			PublishedAt:   row.PublishedAt,
			CreatedAt:     row.CreatedAt,
			UpdatedAt:     row.UpdatedAt,
		},
	})
}
