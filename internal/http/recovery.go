package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loomd/internal/recovery"
)

// handleRecoveryRecord registers a failed recovery attempt.
func (s *Server) handleRecoveryRecord(c echo.Context) error {
	ctx := c.Request().Context()

	var req recovery.RecordRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid recovery record request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	record, err := s.recovery.Record(ctx, &req)
	if err != nil {
		if errors.Is(err, recovery.ErrClosed) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusCreated, record)
}

// handleRecoverySuccess flips a recorded attempt to successful.
func (s *Server) handleRecoverySuccess(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ok, err := s.recovery.MarkSuccessful(ctx, id)
	if err != nil {
		if errors.Is(err, recovery.ErrClosed) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "recovery record not found")
	}

	return c.JSON(http.StatusOK, MarkSuccessResponse{
		RecordID:   id,
		Successful: true,
	})
}

// handleRecoverySuggest returns the escalation-ladder action for a
// session's phase.
func (s *Server) handleRecoverySuggest(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.QueryParam("session_id")
	phaseName := c.QueryParam("phase")

	if sessionID == "" || phaseName == "" {
		return echo.NewHTTPError(http.StatusBadRequest,
			"session_id and phase query parameters are required")
	}

	action, err := s.recovery.Suggest(ctx, sessionID, phaseName)
	if err != nil {
		if errors.Is(err, recovery.ErrClosed) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, SuggestResponse{
		SessionID: sessionID,
		Phase:     phaseName,
		Action:    action,
	})
}

// handleRecoveryList returns a session's recovery history.
func (s *Server) handleRecoveryList(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.QueryParam("session_id")

	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest,
			"session_id query parameter is required")
	}

	records, err := s.recovery.ForSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, recovery.ErrClosed) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return err
	}

	return c.JSON(http.StatusOK, RecoveryListResponse{
		SessionID: sessionID,
		Count:     len(records),
		Records:   records,
	})
}
