package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/middleware"
	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/internal/services"
	"github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/response"
)

// FriendHandler exposes the owner's friend management and the friend's own preferences.
type FriendHandler struct {
	friends *services.FriendService
}

func NewFriendHandler(friends *services.FriendService) *FriendHandler {
	return &FriendHandler{friends: friends}
}

type createFriendRequest struct {
	Name                string   `json:"name" validate:"required,max=120"`
	Emoji               string   `json:"emoji" validate:"max=16"`
	PhoneNumber         *string  `json:"phone_number" validate:"omitempty,phone"`
	ChosenFamily        bool     `json:"chosen_family"`
	TimeZoneName        string   `json:"time_zone_name" validate:"max=64"`
	SubscribedPostTypes []string `json:"subscribed_post_types"`
	MessagingPlatform   string   `json:"messaging_platform" validate:"omitempty,oneof=push sms"`
	SMSFallback         bool     `json:"sms_fallback"`
}

type updateFriendRequest struct {
	Name         *string `json:"name" validate:"omitempty,max=120"`
	Emoji        *string `json:"emoji" validate:"omitempty,max=16"`
	PhoneNumber  *string `json:"phone_number" validate:"omitempty,phone"`
	ChosenFamily *bool   `json:"chosen_family"`
}

type preferencesRequest struct {
	SubscribedPostTypes *[]string `json:"subscribed_post_types"`
	MessagingPlatform   *string   `json:"messaging_platform" validate:"omitempty,oneof=push sms"`
	SMSFallback         *bool     `json:"sms_fallback"`
	TimeZoneName        *string   `json:"time_zone_name" validate:"omitempty,max=64"`
}

// GET /api/friends
func (h *FriendHandler) List(c *gin.Context) {
	friends, err := h.friends.List(requestContext(c), c.GetString(middleware.CtxWorldIDKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, friends)
}

// POST /api/friends
func (h *FriendHandler) Create(c *gin.Context) {
	var req createFriendRequest
	if !bindAndValidate(c, &req) {
		return
	}

	created, err := h.friends.Create(requestContext(c), c.GetString(middleware.CtxWorldIDKey), services.CreateFriendInput{
		Name:                req.Name,
		Emoji:               req.Emoji,
		PhoneNumber:         req.PhoneNumber,
		ChosenFamily:        req.ChosenFamily,
		TimeZoneName:        req.TimeZoneName,
		SubscribedPostTypes: postTypes(req.SubscribedPostTypes),
		MessagingPlatform:   models.MessagingPlatform(req.MessagingPlatform),
		SMSFallback:         req.SMSFallback,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

// PATCH /api/friends/:id
func (h *FriendHandler) Update(c *gin.Context) {
	var req updateFriendRequest
	if !bindAndValidate(c, &req) {
		return
	}

	friend, err := h.friends.Update(requestContext(c), c.GetString(middleware.CtxWorldIDKey), c.Param("id"), services.UpdateFriendInput{
		Name:         req.Name,
		Emoji:        req.Emoji,
		PhoneNumber:  req.PhoneNumber,
		ChosenFamily: req.ChosenFamily,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, friend)
}

// POST /api/friends/:id/pause
func (h *FriendHandler) Pause(c *gin.Context) {
	friend, err := h.friends.Pause(requestContext(c), c.GetString(middleware.CtxWorldIDKey), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, friend)
}

// POST /api/friends/:id/unpause
func (h *FriendHandler) Unpause(c *gin.Context) {
	friend, err := h.friends.Unpause(requestContext(c), c.GetString(middleware.CtxWorldIDKey), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, friend)
}

// DELETE /api/friends/:id
func (h *FriendHandler) Remove(c *gin.Context) {
	if err := h.friends.Remove(requestContext(c), c.GetString(middleware.CtxWorldIDKey), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/me
func (h *FriendHandler) Me(c *gin.Context) {
	friend := viewerOf(c).Friend
	if friend == nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, friend)
}

// PATCH /api/me
func (h *FriendHandler) UpdatePreferences(c *gin.Context) {
	friendID := c.GetString(middleware.CtxFriendIDKey)
	if friendID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req preferencesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.FriendPreferencesInput{
		SMSFallback:  req.SMSFallback,
		TimeZoneName: req.TimeZoneName,
	}
	if req.SubscribedPostTypes != nil {
		types := postTypes(*req.SubscribedPostTypes)
		if types == nil {
			types = []models.PostType{}
		}
		input.SubscribedPostTypes = &types
	}
	if req.MessagingPlatform != nil {
		platform := models.MessagingPlatform(*req.MessagingPlatform)
		input.MessagingPlatform = &platform
	}

	friend, err := h.friends.UpdatePreferences(requestContext(c), friendID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, friend)
}

func postTypes(values []string) []models.PostType {
	if values == nil {
		return nil
	}
	out := make([]models.PostType, len(values))
	for i, v := range values {
		out[i] = models.PostType(v)
	}
	return out
}
