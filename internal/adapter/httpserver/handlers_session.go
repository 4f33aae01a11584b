package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lenahartl/fieldsync/internal/domain"
	apperrors "github.com/lenahartl/fieldsync/internal/errors"
)

type sessionResponse struct {
	State          string         `json:"state"`
	Loading        bool           `json:"loading"`
	SessionError   bool           `json:"session_error"`
	SelectedTenant string         `json:"selected_tenant,omitempty"`
	Principal      *principalView `json:"principal,omitempty"`
	Profile        *profileView   `json:"profile,omitempty"`
}

type principalView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type profileView struct {
	DisplayName string `json:"display_name"`
	TenantID    string `json:"tenant_id,omitempty"`
	Role        string `json:"role"`
}

func toSessionResponse(snap domain.SessionSnapshot) sessionResponse {
	resp := sessionResponse{
		State:        string(snap.State),
		Loading:      snap.Loading,
		SessionError: snap.SessionError,
	}
	if snap.SelectedTenant != uuid.Nil {
		resp.SelectedTenant = snap.SelectedTenant.String()
	}
	if snap.Session != nil {
		resp.Principal = &principalView{
			ID:    snap.Session.PrincipalID.String(),
			Email: snap.Session.Email,
		}
	}
	if snap.Profile != nil {
		resp.Profile = &profileView{
			DisplayName: snap.Profile.DisplayName,
			Role:        string(snap.Profile.Role),
		}
		if snap.Profile.TenantID != uuid.Nil {
			resp.Profile.TenantID = snap.Profile.TenantID.String()
		}
	}
	return resp
}

func (s *Server) handleSessionSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, toSessionResponse(s.sessions.Snapshot()))
}

func (s *Server) handleRecover(c echo.Context) error {
	if err := s.sessions.RecoverSession(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResponse(s.sessions.Snapshot()))
}

func (s *Server) handleLogout(c echo.Context) error {
	s.sessions.ForceLogout(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

type switchTenantRequest struct {
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleSwitchTenant(c echo.Context) error {
	var req switchTenantRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Validation("invalid request body")
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		return apperrors.Validation("tenant_id must be a UUID")
	}

	if err := s.sessions.SwitchTenant(tenantID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResponse(s.sessions.Snapshot()))
}
