package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"guidekit/pkg/auth"
)

const identityKey = "identity"

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if path == "/healthz" || path == s.opts.MetricsPath {
			return
		}
		s.logger.Info("%s %s %d %s", c.Request.Method, path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Registry == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		s.opts.Registry.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) cors() gin.HandlerFunc {
	origins := s.opts.Server.CORSOrigins
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || (!slices.Contains(origins, "*") && !slices.Contains(origins, origin)) {
			c.Next()
			return
		}
		h := c.Writer.Header()
		if slices.Contains(origins, "*") {
			// Browsers reject credentials with a wildcard origin.
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// authenticate resolves the caller when a token is present. Requests without
// a token continue anonymously; an invalid token is rejected outright.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		id, err := s.opts.Verifier.Verify(token)
		switch {
		case err == nil:
			c.Set(identityKey, id)
		case token == "":
		default:
			s.logger.Warn("Rejected token from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid or expired session token"})
			return
		}
		c.Next()
	}
}

// userID returns the authenticated user, or "" for anonymous requests.
func userID(c *gin.Context) string {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(*auth.Identity); ok {
			return id.UserID
		}
	}
	return ""
}

func (s *Server) requireUser(c *gin.Context) (string, bool) {
	uid := userID(c)
	if strings.TrimSpace(uid) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
		return "", false
	}
	return uid, true
}
