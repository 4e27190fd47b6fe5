package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loomd/internal/phase"
	"github.com/fyrsmithlabs/loomd/internal/pipeline"
	"github.com/fyrsmithlabs/loomd/internal/task"
)

// handleCreateTask creates a task from a bead reference.
func (s *Server) handleCreateTask(c echo.Context) error {
	ctx := c.Request().Context()

	var req task.CreateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid task create request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	created, err := s.store.Create(ctx, req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusCreated, created)
}

// handleListTasks returns snapshots of every task, oldest first.
func (s *Server) handleListTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.List(c.Request().Context()))
}

// handleGetTask returns one task snapshot.
func (s *Server) handleGetTask(c echo.Context) error {
	t, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// handleSubmitPipeline starts a pipeline run for the task. The task
// moves to the coding phase synchronously; the rest of the run happens
// in the background.
func (s *Server) handleSubmitPipeline(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	err := s.pipeline.Execute(ctx, id)
	if err != nil {
		var invalid *phase.InvalidTransitionError
		switch {
		case errors.Is(err, task.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		case errors.As(err, &invalid):
			return echo.NewHTTPError(http.StatusConflict,
				"cannot start pipeline: task is in "+invalid.From.String()+" phase")
		case errors.Is(err, pipeline.ErrRunActive):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, pipeline.ErrClosed):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		default:
			return err
		}
	}

	return c.JSON(http.StatusAccepted, SubmitResponse{
		TaskID:  id,
		Phase:   phase.Coding,
		Message: "pipeline submitted",
	})
}

// handleStopPipeline cancels the task's active run. The run winds down
// at its next checkpoint, so the stop is acknowledged, not awaited.
func (s *Server) handleStopPipeline(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.store.Get(ctx, id); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return err
	}

	if err := s.pipeline.Stop(ctx, id); err != nil {
		if errors.Is(err, pipeline.ErrNoActiveRun) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return err
	}

	return c.JSON(http.StatusAccepted, StopResponse{
		TaskID:  id,
		Message: "stop requested",
	})
}

// handleBuildLogs returns the task's build-log entries, optionally
// restricted to those strictly newer than the since query parameter.
func (s *Server) handleBuildLogs(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest,
				"invalid 'since' timestamp; use ISO-8601 / RFC-3339")
		}
		since = parsed
	}

	t, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return err
	}

	entries := t.BuildLogsSince(since)
	return c.JSON(http.StatusOK, BuildLogsResponse{
		TaskID:  id,
		Count:   len(entries),
		Entries: entries,
	})
}

// handleBuildStatus summarizes the task's captured build output.
func (s *Server) handleBuildStatus(c echo.Context) error {
	t, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, t.BuildStatus())
}

// handleQueueStatus reports the admission queue counters.
func (s *Server) handleQueueStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pipeline.QueueStatus())
}

// handleEvents returns the retained recent events, oldest first.
func (s *Server) handleEvents(c echo.Context) error {
	recent := s.bus.Recent()
	return c.JSON(http.StatusOK, EventsResponse{
		Count:  len(recent),
		Events: recent,
	})
}
