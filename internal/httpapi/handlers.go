package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eugenetaranov/sshgate/internal/gateway"
	"github.com/eugenetaranov/sshgate/internal/wire"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRun(c echo.Context) error {
	if !isJSON(c.Request().Header.Get(echo.HeaderContentType)) {
		return c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: "Content-Type must be application/json"})
	}

	req, err := wire.DecodeRequest(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: "invalid JSON: " + err.Error()})
	}

	ctx := c.Request().Context()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return c.JSON(http.StatusServiceUnavailable, wire.ErrorBody{Error: "request canceled"})
	}
	defer s.sem.Release(1)

	res, err := s.runner.Run(ctx, req.Gateway())
	if err != nil {
		status, body := errorResponse(err)
		return c.JSON(status, body)
	}

	return c.JSON(http.StatusOK, wire.FromResult(res))
}

// errorResponse maps a gateway error to an HTTP status and body.
func errorResponse(err error) (int, wire.ErrorBody) {
	var (
		verr *gateway.ValidationError
		serr *gateway.SpawnError
		terr *gateway.TimeoutError
		cerr *gateway.CanceledError
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, wire.ErrorBody{Error: verr.Error(), Field: verr.Field}
	case errors.As(err, &serr):
		return http.StatusInternalServerError, wire.ErrorBody{Error: "SSH execution failed: " + serr.Error()}
	case errors.As(err, &terr):
		return http.StatusGatewayTimeout, wire.ErrorBody{Error: "SSH command timed out", Result: wire.FromResult(terr.Result)}
	case errors.As(err, &cerr):
		return http.StatusServiceUnavailable, wire.ErrorBody{Error: "request canceled", Result: wire.FromResult(cerr.Result)}
	default:
		return http.StatusInternalServerError, wire.ErrorBody{Error: "internal server error"}
	}
}
