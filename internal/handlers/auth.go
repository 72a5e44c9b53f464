package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/middleware"
	"github.com/charlesng35/smallworld/internal/services"
	"github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/response"
)

// AuthHandler manages owner signup, login and world settings.
type AuthHandler struct {
	owners *services.OwnerService
}

func NewAuthHandler(owners *services.OwnerService) *AuthHandler {
	return &AuthHandler{owners: owners}
}

type registerRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Handle    string `json:"handle" validate:"required,slug,max=64"`
	WorldName string `json:"world_name" validate:"omitempty,max=120"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type updateWorldRequest struct {
	Name               *string `json:"name" validate:"omitempty,max=120"`
	Theme              *string `json:"theme" validate:"omitempty,max=32"`
	AllowFriendSharing *bool   `json:"allow_friend_sharing"`
	HideNeko           *bool   `json:"hide_neko"`
	HideStats          *bool   `json:"hide_stats"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.owners.Register(requestContext(c), services.RegisterInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		Handle:    req.Handle,
		WorldName: req.WorldName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.owners.Login(requestContext(c), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GET /api/world
func (h *AuthHandler) World(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	world, err := h.owners.World(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, world)
}

// PATCH /api/world
func (h *AuthHandler) UpdateWorld(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req updateWorldRequest
	if !bindAndValidate(c, &req) {
		return
	}

	world, err := h.owners.UpdateWorld(requestContext(c), userID, services.UpdateWorldInput{
		Name:               req.Name,
		Theme:              req.Theme,
		AllowFriendSharing: req.AllowFriendSharing,
		HideNeko:           req.HideNeko,
		HideStats:          req.HideStats,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, world)
}
