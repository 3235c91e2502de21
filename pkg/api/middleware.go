package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// authenticate enforces bearer tokens. While no tokens exist the API runs in
// bootstrap mode and accepts any caller, so a fresh install can mint its
// first token over its own API.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			count int
			tok   *types.AccessToken
		)
		secret := bearerSecret(c.GetHeader("Authorization"))

		err := s.store.View(func(tx *storage.Txn) error {
			var err error
			count, err = tx.CountAccessTokens()
			if err != nil {
				return err
			}
			if secret != "" {
				tok, err = tx.AccessTokenBySecret(secret)
			}
			return err
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth check failed"})
			return
		}

		if count == 0 {
			c.Next()
			return
		}

		if tok == nil || tok.Expired(time.Now().UTC()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set("token_identifier", tok.Identifier)
		c.Next()
	}
}

func bearerSecret(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// instrument records request counts and latencies.
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method).Observe(timer.Duration().Seconds())
	}
}
