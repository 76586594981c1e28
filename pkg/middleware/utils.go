package middleware

import (
	"github.com/gin-gonic/gin"

	"callboard/pkg/ctxkeys"
	"callboard/pkg/logging"
)

// ProbePaths are polled by load balancers and scrapers; successful hits are
// logged at debug.
var ProbePaths = []string{"/health", "/metrics"}

// SetupCommonMiddleware installs the shared middleware chain. Request ids
// come first so every later handler can log them.
func SetupCommonMiddleware(r *gin.Engine, logger logging.Logger, service string) {
	r.Use(
		RequestIDMiddleware(),
		LoggingMiddleware(logger, ProbePaths...),
		RecoveryMiddleware(logger, service),
		CORSMiddleware(),
	)
}

// GetRequestID returns the id set by RequestIDMiddleware, or "".
func GetRequestID(c *gin.Context) string {
	if id := ctxkeys.RequestID(c.Request.Context()); id != "" {
		return id
	}
	return c.GetString(requestIDKey)
}

// GetContextLogger gets a logger carrying the request's identity.
func GetContextLogger(c *gin.Context, logger logging.Logger) logging.Entry {
	return logger.WithFields(logging.Fields{
		"request_id": GetRequestID(c),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"client_ip":  c.ClientIP(),
	})
}
