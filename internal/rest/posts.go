package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bramble-social/bramble/internal/apierr"
)

// CreatePostBody is the payload for publishing a post.
type CreatePostBody struct {
	Content    string `json:"content" binding:"required"`
	Visibility string `json:"visibility"`
}

func (s *Server) createPost(c *gin.Context) {
	var body CreatePostBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, apierr.Validation(apierr.CodeInvalidRequest, "content is required"))
		return
	}

	post, err := s.service.CreatePost(c.Request.Context(), caller(c), body.Content, body.Visibility)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, post)
}

// UpdatePostVisibilityBody is the payload for changing a post's access level.
type UpdatePostVisibilityBody struct {
	Visibility string `json:"visibility" binding:"required"`
}

func (s *Server) updatePostVisibility(c *gin.Context) {
	var body UpdatePostVisibilityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, apierr.Validation(apierr.CodeInvalidRequest, "visibility is required"))
		return
	}

	post, err := s.service.UpdatePostVisibility(c.Request.Context(), caller(c), c.Param("postId"), body.Visibility)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

func (s *Server) deletePost(c *gin.Context) {
	if err := s.service.DeletePost(c.Request.Context(), caller(c), c.Param("postId")); err != nil {
		s.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) getPost(c *gin.Context) {
	item, err := s.service.GetPost(c.Request.Context(), caller(c), c.Param("id"), c.Param("postId"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (s *Server) getUserPosts(c *gin.Context) {
	page, err := s.service.GetUserPosts(c.Request.Context(), caller(c), c.Param("id"),
		queryInt(c, "limit"), c.Query("cursor"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (s *Server) getFeed(c *gin.Context) {
	page, err := s.service.GetFeed(c.Request.Context(), caller(c),
		queryInt(c, "limit"), c.Query("cursor"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}
