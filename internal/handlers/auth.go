package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"groupchat/internal/auth"
	"groupchat/internal/models"
	"groupchat/internal/repositories"
	"groupchat/internal/telemetry"
)

// AuthHandler serves signup and login.
type AuthHandler struct {
	users  repositories.UserRepository
	tokens tokenIssuer
	audit  auditEmitter
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(users repositories.UserRepository, tokens tokenIssuer, audit auditEmitter) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, audit: audit}
}

type authResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Signup handles POST /auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create account"})
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), strings.TrimSpace(req.Name), req.Email, hash)
	if err != nil {
		if errors.Is(err, repositories.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email in use"})
			return
		}
		log.Printf("signup failed: %v", err)
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "auth.signup", Text: "internal error"})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create account"})
		return
	}

	c.Set("userID", user.ID)
	h.respondWithToken(c, user)
	emitAudit(c, h.audit, telemetry.AuditRecord{Action: "auth.signup", Text: "user signed up"})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials"})
			return
		}
		log.Printf("login lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not log in"})
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "auth.login", Text: "invalid credentials"})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials"})
		return
	}

	h.respondWithToken(c, user)
}

func (h *AuthHandler) respondWithToken(c *gin.Context, user models.User) {
	token, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		log.Printf("issue token user=%s: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, authResponse{Token: token, User: user})
}
