package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bramble-social/bramble/internal/apierr"
)

// SendFriendRequestBody is the payload for creating a friend request.
type SendFriendRequestBody struct {
	AddresseeID string `json:"addresseeId" binding:"required"`
	Message     string `json:"message"`
}

func (s *Server) sendFriendRequest(c *gin.Context) {
	var body SendFriendRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, apierr.Validation(apierr.CodeInvalidRequest, "addressee id is required"))
		return
	}

	view, err := s.service.SendFriendRequest(c.Request.Context(), caller(c), body.AddresseeID, body.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

func (s *Server) acceptFriendRequest(c *gin.Context) {
	view, err := s.service.AcceptFriendRequest(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) rejectFriendRequest(c *gin.Context) {
	view, err := s.service.RejectFriendRequest(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) removeFriendship(c *gin.Context) {
	if err := s.service.RemoveFriendship(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) blockUser(c *gin.Context) {
	view, err := s.service.BlockUser(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) listFriends(c *gin.Context) {
	page, err := s.service.ListFriends(c.Request.Context(), caller(c),
		c.Query("status"), queryInt(c, "limit"), c.Query("cursor"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (s *Server) listIncomingRequests(c *gin.Context) {
	views, err := s.service.ListIncomingRequests(c.Request.Context(), caller(c), c.Query("status"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": views})
}

// queryInt parses an optional integer query parameter, zero when absent or
// malformed.
func queryInt(c *gin.Context, name string) int {
	value, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return value
}
