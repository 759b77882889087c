package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/fusion/internal/categorize"
	"horse.fit/fusion/internal/db"
)

const maxRequestBodyBytes = 1 << 20

type classifyRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleGetClassificationConfig(c echo.Context) error {
	return success(c, map[string]any{
		"config": s.classifier.Config(),
	})
}

// handlePutClassificationConfig applies the body over the current settings,
// so omitted fields keep their values.
func (s *Server) handlePutClassificationConfig(c echo.Context) error {
	cfg := s.classifier.Config()
	if err := decodeJSONBody(c, &cfg); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if err := cfg.Validate(); err != nil {
		return failValidation(c, map[string]string{"config": err.Error()})
	}
	if err := s.classifier.SetConfig(cfg); err != nil {
		s.logger.Error().Err(err).Msg("update classification config failed")
		return internalError(c, "Failed to update classification config")
	}

	s.logger.Info().
		Float64("keyword_threshold", cfg.KeywordThreshold).
		Bool("use_ai_fallback", cfg.UseAIFallback).
		Bool("combine_results", cfg.CombineResults).
		Bool("auto_learn_keywords", cfg.AutoLearnKeywords).
		Msg("classification config updated")

	return success(c, map[string]any{
		"config": s.classifier.Config(),
	})
}

func (s *Server) handleClassify(c echo.Context) error {
	var req classifyRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	if req.Title == "" && req.Content == "" {
		return failValidation(c, map[string]string{"content": "title or content is required"})
	}

	result, err := s.classifier.Classify(c.Request().Context(), req.Title, req.Content)
	if err != nil {
		return s.classificationFailure(c, err, "classify text failed")
	}
	return success(c, map[string]any{
		"result": result,
	})
}

func (s *Server) handleReclassify(c echo.Context) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		return failValidation(c, map[string]string{"id": "must be a positive integer"})
	}

	result, err := s.classifier.ReclassifyContent(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Content not found")
		}
		return s.classificationFailure(c, err, "reclassify content failed")
	}
	return success(c, map[string]any{
		"content_id": id,
		"result":     result,
	})
}

func (s *Server) classificationFailure(c echo.Context, err error, msg string) error {
	s.logger.Error().Err(err).Msg(msg)
	if errors.Is(err, categorize.ErrClassification) {
		return errorWithStatus(c, http.StatusBadGateway, "Language model classification failed")
	}
	return internalError(c, "Failed to classify content")
}

func decodeJSONBody(c echo.Context, target any) error {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}
