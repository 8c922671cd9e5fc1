// Package rest is the thin HTTP surface over the service layer. Routing and
// payload binding happen here; authentication does not: the upstream gateway
// verifies the caller and forwards the identity context in a trusted header.
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/apierr"
	"github.com/bramble-social/bramble/internal/service"
	"github.com/bramble-social/bramble/internal/setup/config"
)

// identityHeader carries the verified caller id set by the gateway.
const identityHeader = "X-User-ID"

// callerKey is the gin context key holding the caller id.
const callerKey = "callerID"

// Server handles the HTTP API.
type Server struct {
	service *service.Service
	logger  *zap.Logger
}

// NewServer builds the gin engine with all routes registered.
func NewServer(svc *service.Service, cfg *config.Server, logger *zap.Logger) *gin.Engine {
	s := &Server{
		service: svc,
		logger:  logger.Named("rest"),
	}

	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())
	engine.Use(requestTimeout(time.Duration(cfg.RequestTimeout) * time.Millisecond))

	v1 := engine.Group("/v1")
	v1.Use(s.identityContext())
	{
		v1.POST("/friends/requests", s.sendFriendRequest)
		v1.POST("/friends/requests/:id/accept", s.acceptFriendRequest)
		v1.POST("/friends/requests/:id/reject", s.rejectFriendRequest)
		v1.GET("/friends/requests/incoming", s.listIncomingRequests)
		v1.GET("/friends", s.listFriends)
		v1.DELETE("/friends/:id", s.removeFriendship)
		v1.POST("/users/:id/block", s.blockUser)

		v1.POST("/posts", s.createPost)
		v1.PATCH("/posts/:postId/visibility", s.updatePostVisibility)
		v1.DELETE("/posts/:postId", s.deletePost)
		v1.GET("/users/:id/posts", s.getUserPosts)
		v1.GET("/users/:id/posts/:postId", s.getPost)
		v1.GET("/feed", s.getFeed)
	}

	return engine
}

// identityContext extracts the verified caller id from the gateway header.
// Requests without one never reach the service layer.
func (s *Server) identityContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID := c.GetHeader(identityHeader)
		if callerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "missing_identity",
					"message": "identity context header is required",
				},
			})
			return
		}

		c.Set(callerKey, callerID)
		c.Next()
	}
}

// requestLogger logs each request with its latency and status.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// requestTimeout bounds each request's context so downstream fan-out and
// store calls are abandoned when the deadline passes.
func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// caller returns the verified caller id for the request.
func caller(c *gin.Context) string {
	return c.GetString(callerKey)
}

// writeError maps a service error onto the wire format. The stable codes are
// an integration contract; underlying causes are logged, never serialized.
func (s *Server) writeError(c *gin.Context, err error) {
	apiErr := apierr.From(err)
	if apiErr.Status == http.StatusInternalServerError {
		s.logger.Error("Request failed on a dependency",
			zap.String("path", c.FullPath()),
			zap.Error(errors.Unwrap(apiErr)))
	}

	c.JSON(apiErr.Status, gin.H{
		"error": gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}
