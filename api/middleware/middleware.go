/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"
	"github.com/soonaverse/settle/config"
)

const (
	// SecretKeyHeader carries the server secret on every request when the
	// server runs in secure mode.
	SecretKeyHeader = "X-Settle-Key"

	defaultCleanupInterval = 10 * time.Minute
)

// RateLimitMiddleware limits requests per client IP. It is a no-op unless both
// requests_per_second and burst are configured.
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	rl := conf.RateLimit
	if rl.RequestsPerSecond == nil || rl.Burst == nil {
		return func(c *gin.Context) { c.Next() }
	}

	ttl := defaultCleanupInterval
	if rl.CleanupIntervalSec != nil && *rl.CleanupIntervalSec > 0 {
		ttl = time.Duration(*rl.CleanupIntervalSec) * time.Second
	}
	lmt := tollbooth.NewLimiter(*rl.RequestsPerSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl}).
		SetBurst(*rl.Burst).
		SetMessage("too many requests, slow down")

	return func(c *gin.Context) {
		if limited := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); limited != nil {
			c.AbortWithStatusJSON(limited.StatusCode, gin.H{"error": limited.Message})
			return
		}
		c.Next()
	}
}

// SecretKeyAuthMiddleware rejects requests whose SecretKeyHeader does not
// match server.secret_key.
func SecretKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := ""
		if conf, err := config.Fetch(); err == nil {
			expected = conf.Server.SecretKey
		}
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server secret key is not configured"})
			return
		}

		switch provided := c.GetHeader(SecretKeyHeader); {
		case provided == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + SecretKeyHeader + " header"})
		case subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret key"})
		default:
			c.Next()
		}
	}
}
