package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"marginchain/observability"
	"marginchain/observability/logging"
)

// AdminRole is the value of the "role" claim required on admin routes.
const AdminRole = "lending-admin"

// AuthConfig configures HS256 admin token verification.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

type authenticator struct {
	secret []byte
	opts   []jwt.ParserOption
	logger *slog.Logger
}

func newAuthenticator(cfg AuthConfig, logger *slog.Logger) *authenticator {
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &authenticator{
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		opts:   opts,
		logger: logger,
	}
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := extractBearer(header)
		if token == "" {
			observability.API().RecordDenial("missing")
			writeJSONError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		if err := a.verify(token); err != nil {
			observability.API().RecordDenial("invalid")
			a.logger.Warn("admin token rejected",
				slog.String("path", r.URL.Path),
				slog.String("authorization", logging.MaskBearer(header)),
				slog.Any("error", err),
			)
			writeJSONError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *authenticator) verify(tokenString string) error {
	if len(a.secret) == 0 {
		return errors.New("auth secret not configured")
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, a.opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	if role, _ := claims["role"].(string); role != AdminRole {
		return errors.New("role claim missing or not admin")
	}
	return nil
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
