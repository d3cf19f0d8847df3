package http

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/metrics"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

const (
	headerRequestID = "X-Request-Id"
	headerDeviceID  = "X-Device-Id"

	ctxKeyIdentity = "identity"
)

// RequestIDMiddleware ensures every request has a unique X-Request-Id.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(headerRequestID)
			if id == "" {
				id = generateID()
			}
			c.Response().Header().Set(headerRequestID, id)
			c.Set("request_id", id)
			return next(c)
		}
	}
}

// LoggingMiddleware logs each request with structured fields.
func LoggingMiddleware(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("request",
				"request_id", c.Get("request_id"),
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}

// MetricsMiddleware records per-route request counts and latency. The
// route template is used as the path label so tokens and record ids do
// not explode cardinality.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			m.ObserveRequest(path, c.Response().Status, time.Since(start))
			return err
		}
	}
}

// IdentityMiddleware resolves who is asking. A valid Bearer token wins;
// otherwise the caller is a guest identified by the X-Device-Id header.
// A present-but-invalid token is rejected rather than downgraded.
func IdentityMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := ports.Identity{
				DeviceID: c.Request().Header.Get(headerDeviceID),
				Tier:     ports.TierGuest,
			}

			if raw, ok := bearerToken(c.Request()); ok {
				claims, err := parseClaims(raw, secret)
				if err != nil {
					return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
				}
				id.UserID = claims.Subject
				id.Tier = ports.Tier(claims.Tier)
				if id.Tier == "" || id.Tier == ports.TierGuest {
					id.Tier = ports.TierFree
				}
			}

			c.Set(ctxKeyIdentity, id)
			return next(c)
		}
	}
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Tier string `json:"tier,omitempty"`
}

func parseClaims(raw string, secret []byte) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

func identityFrom(c echo.Context) ports.Identity {
	id, _ := c.Get(ctxKeyIdentity).(ports.Identity)
	return id
}

func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
