package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type envelope struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data"`
	APIVersion string `json:"apiVersion"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type authInfo struct {
	Authenticated       bool      `json:"authenticated"`
	AuthRequired        bool      `json:"authRequired"`
	KeyIndex            *int      `json:"keyIndex"`
	TotalKeysConfigured int       `json:"totalKeysConfigured"`
	KeyPrefix           *string   `json:"keyPrefix"`
	AccessTime          time.Time `json:"accessTime"`
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data, APIVersion: Version})
}

func unavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, errorBody{
		Error:   "Status data not available",
		Message: "Please wait for the updater to run",
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	latest, found := s.reader.Latest()
	if !found {
		return unavailable(c)
	}
	return ok(c, latest)
}

func (s *Server) handleSummary(c echo.Context) error {
	summary, found := s.reader.Summary()
	if !found {
		return unavailable(c)
	}
	return ok(c, summary)
}

func (s *Server) handlePillars(c echo.Context) error {
	pillars, found := s.reader.Pillars()
	if !found {
		return unavailable(c)
	}
	return ok(c, pillars)
}

func (s *Server) handleAuthInfo(c echo.Context) error {
	info := authInfo{
		Authenticated:       true,
		AuthRequired:        len(s.keys) > 0,
		TotalKeysConfigured: len(s.keys),
		AccessTime:          s.now(),
	}
	key := requestKey(c)
	if index := s.keyIndex(key); index > 0 {
		info.KeyIndex = &index
	}
	if prefix := keyPrefix(key); prefix != "" {
		info.KeyPrefix = &prefix
	}
	return ok(c, info)
}

func (s *Server) handleRefresh(c echo.Context) error {
	if s.refresher == nil {
		return c.JSON(http.StatusNotImplemented, errorBody{Error: "Refresh unavailable", Message: "no scheduler configured"})
	}
	snap, err := s.refresher.ForceUpdate(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("admin refresh failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Refresh failed", Message: err.Error()})
	}
	return ok(c, snap.Summary)
}
