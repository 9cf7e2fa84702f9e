package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonbobo/Capstone-UNY/internal/auth"
)

const (
	// userIDKey carries the authenticated user id as a decimal string; the
	// logger and the rate limiter read it.
	userIDKey = "userID"
	// identityKey carries the full auth.Identity.
	identityKey = "identity"
)

// authFailures counts rejected bearer tokens by verification outcome.
var authFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Requests rejected by the bearer token guard, by reason.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(authFailures)
}

// RequireAuth admits only requests carrying a verifiable bearer token.
//
// A missing header or a non-Bearer scheme is answered with 401 before the
// token is looked at. Any verification failure is answered with one 403 body
// regardless of why; the reason is only logged and counted.
func RequireAuth(v auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			authFailures.WithLabelValues("missing").Inc()
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "access token required")
			return
		}

		id, err := v.Verify(token)
		if err != nil {
			reason := auth.KindOf(err).String()
			authFailures.WithLabelValues(reason).Inc()
			LoggerFrom(c).Info().Str("reason", reason).Msg("auth_failure")
			abortAuth(c, http.StatusForbidden, "forbidden", "invalid or expired token")
			return
		}

		c.Set(userIDKey, strconv.FormatUint(uint64(id.UserID), 10))
		c.Set(identityKey, id)
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// IdentityFrom returns the identity stored by RequireAuth.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

// bearerToken extracts the credential from "Bearer <token>". The scheme is
// matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}
