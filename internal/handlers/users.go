package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"groupchat/internal/models"
	"groupchat/internal/presence"
	"groupchat/internal/repositories"
)

const userSearchLimit = 50

// UserHandler serves user search and the presence snapshot.
type UserHandler struct {
	users    repositories.UserRepository
	presence presence.Registry
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users repositories.UserRepository, registry presence.Registry) *UserHandler {
	return &UserHandler{users: users, presence: registry}
}

// SearchUsers handles GET /api/users?q=.
func (h *UserHandler) SearchUsers(c *gin.Context) {
	users, err := h.users.SearchUsers(c.Request.Context(), strings.TrimSpace(c.Query("q")), c.GetString("userID"), userSearchLimit)
	if err != nil {
		log.Printf("search users failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// OnlineUsers handles GET /api/users/online.
func (h *UserHandler) OnlineUsers(c *gin.Context) {
	entries, err := h.presence.List(c.Request.Context())
	if err != nil {
		log.Printf("list presence failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch online users"})
		return
	}
	out := make([]models.PresencePayload, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.PresencePayload{UserID: e.UserID, Name: e.Name, Email: e.Email, Online: e.Online})
	}
	c.JSON(http.StatusOK, out)
}
