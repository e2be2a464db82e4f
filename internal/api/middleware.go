package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	headerAPIKey = "X-API-Key"
	queryAPIKey  = "api_key"

	keyPrefixLength = 8
)

// keyAuth accepts a configured key from the X-API-Key header or the api_key
// query parameter.
func (s *Server) keyAuth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + headerAPIKey + ",query:" + queryAPIKey,
		Validator: func(key string, _ echo.Context) (bool, error) {
			return s.keyIndex(key) > 0, nil
		},
		ErrorHandler: func(_ error, c echo.Context) error {
			s.logger.Warn().
				Str("remote_ip", c.RealIP()).
				Str("key_prefix", keyPrefix(requestKey(c))).
				Msg("unauthorized API access attempt")
			return c.JSON(http.StatusUnauthorized, errorBody{
				Error:   "Unauthorized",
				Message: "Invalid or missing API key",
			})
		},
	})
}

// rateLimiter limits each client IP to perMinute requests per minute.
func (s *Server) rateLimiter(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		perMinute = DefaultRateLimitPerMinute
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Every(time.Minute / time.Duration(perMinute)),
		Burst:     perMinute,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.JSON(http.StatusForbidden, errorBody{Error: "Forbidden", Message: "Client could not be identified"})
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			s.logger.Warn().Str("remote_ip", identifier).Msg("API rate limit exceeded")
			return c.JSON(http.StatusTooManyRequests, errorBody{Error: "Too Many Requests", Message: "Rate limit exceeded"})
		},
	})
}

// keyIndex returns the 1-based position of key among the configured keys,
// or 0 when it is not configured.
func (s *Server) keyIndex(key string) int {
	if key == "" {
		return 0
	}
	for i, candidate := range s.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return i + 1
		}
	}
	return 0
}

func requestKey(c echo.Context) string {
	if key := c.Request().Header.Get(headerAPIKey); key != "" {
		return key
	}
	return c.QueryParam(queryAPIKey)
}

func keyPrefix(key string) string {
	if key == "" {
		return ""
	}
	if len(key) > keyPrefixLength {
		key = key[:keyPrefixLength]
	}
	return key + "..."
}
