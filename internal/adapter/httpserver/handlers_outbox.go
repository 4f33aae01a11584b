package httpserver

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lenahartl/fieldsync/internal/domain"
	apperrors "github.com/lenahartl/fieldsync/internal/errors"
)

type enqueueRequest struct {
	Table       string              `json:"table"`
	Fields      map[string]any      `json:"fields"`
	Attachments []attachmentPayload `json:"attachments"`
}

type attachmentPayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"` // base64
}

type mutationView struct {
	LocalID     string         `json:"local_id"`
	Table       string         `json:"table"`
	Fields      map[string]any `json:"fields"`
	Attachments []string       `json:"attachments"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

func toMutationView(m *domain.PendingMutation) mutationView {
	v := mutationView{
		LocalID:    m.LocalID.String(),
		Table:      m.Table,
		Fields:     m.Fields,
		EnqueuedAt: m.EnqueuedAt,
	}
	for _, a := range m.Attachments {
		v.Attachments = append(v.Attachments, a.Name)
	}
	return v
}

func (s *Server) handleEnqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Validation("invalid request body")
	}
	if req.Table == "" {
		return apperrors.Validation("table is required")
	}

	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return apperrors.Validation("attachment data must be base64").WithContext("attachment", a.Name)
		}
		attachments = append(attachments, domain.Attachment{
			Name:        a.Name,
			ContentType: a.ContentType,
			Data:        data,
		})
	}

	localID, err := s.queue.Enqueue(c.Request().Context(), req.Table, req.Fields, attachments)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"local_id": localID.String()})
}

func (s *Server) handleListOutbox(c echo.Context) error {
	pending, err := s.queue.ListPending(c.Request().Context())
	if err != nil {
		return err
	}

	views := make([]mutationView, 0, len(pending))
	for _, m := range pending {
		views = append(views, toMutationView(m))
	}
	return c.JSON(http.StatusOK, map[string]any{"pending": views})
}

func (s *Server) handleDiscard(c echo.Context) error {
	localID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperrors.Validation("id must be a UUID")
	}

	if err := s.queue.Discard(c.Request().Context(), localID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleReplayOne(c echo.Context) error {
	localID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperrors.Validation("id must be a UUID")
	}

	if err := s.queue.ReplayOne(c.Request().Context(), localID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleReplayAll(c echo.Context) error {
	if err := s.queue.ReplayAll(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
