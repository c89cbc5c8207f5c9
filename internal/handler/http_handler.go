package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/TechSanzo/chaturbate/internal/audit"
	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/internal/ledger"
	"github.com/TechSanzo/chaturbate/internal/presence"
	"github.com/TechSanzo/chaturbate/internal/repository"
	"github.com/TechSanzo/chaturbate/internal/service"
	"github.com/TechSanzo/chaturbate/internal/session"
	"github.com/TechSanzo/chaturbate/pkg/log"
	"github.com/TechSanzo/chaturbate/pkg/response"
)

// Handler serves the HTTP API.
type Handler struct {
	creds    *session.JWTCredentials
	tokens   *session.TokenManager
	users    repository.UserRepository
	streams  *service.StreamService
	chat     *service.ChatService
	shows    *service.ShowService
	ledger   *ledger.Ledger
	presence *presence.Tracker
	auth     *AuthMiddleware
	credits  session.Config
}

// NewHandler creates the HTTP handler.
func NewHandler(
	creds *session.JWTCredentials,
	tokens *session.TokenManager,
	users repository.UserRepository,
	streams *service.StreamService,
	chat *service.ChatService,
	shows *service.ShowService,
	lg *ledger.Ledger,
	tracker *presence.Tracker,
	auth *AuthMiddleware,
	credits session.Config,
) *Handler {
	return &Handler{
		creds:    creds,
		tokens:   tokens,
		users:    users,
		streams:  streams,
		chat:     chat,
		shows:    shows,
		ledger:   lg,
		presence: tracker,
		auth:     auth,
		credits:  credits,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/route", h.auth.OptionalAuth(), h.Route)

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/signup", h.SignUp)
			auth.POST("/signin", h.SignIn)
			auth.POST("/signout", h.auth.RequireAuth(), h.SignOut)
			auth.POST("/profile", h.auth.RequireAuth(), h.CompleteProfile)
		}

		users := api.Group("/users")
		{
			users.GET("/me", h.auth.RequireAuth(), h.GetMe)
			users.PUT("/me", h.auth.RequireAuth(), h.UpdateMe)
			users.GET("/:username", h.GetProfile)
		}

		streams := api.Group("/streams")
		{
			streams.GET("", h.ListStreams)
			streams.GET("/:id", h.GetStream)
			streams.GET("/:id/messages", h.MessageHistory)

			streams.POST("", h.auth.RequireAuth(), h.auth.RequireRole(domain.RoleBroadcaster), h.CreateStream)
			streams.PUT("/:id", h.auth.RequireAuth(), h.UpdateStream)
			streams.POST("/:id/start", h.auth.RequireAuth(), h.StartStream)
			streams.POST("/:id/end", h.auth.RequireAuth(), h.EndStream)
			streams.POST("/:id/messages", h.auth.RequireAuth(), h.SendMessage)
			streams.POST("/:id/tips", h.auth.RequireAuth(), h.SendTip)
			streams.POST("/:id/join", h.auth.RequireAuth(), h.JoinStream)
			streams.POST("/:id/leave", h.auth.RequireAuth(), h.LeaveStream)
		}

		api.POST("/presence/heartbeat", h.auth.RequireAuth(), h.Heartbeat)

		shows := api.Group("/shows")
		shows.Use(h.auth.RequireAuth())
		{
			shows.POST("", h.StartShow)
			shows.GET("/:id", h.GetShow)
			shows.POST("/:id/end", h.EndShow)
			shows.POST("/:id/cancel", h.CancelShow)
		}
	}
}

// Route resolves where the caller belongs and redirects there. A
// mismatch is never an error.
func (h *Handler) Route(c *gin.Context) {
	snap := session.Snapshot{State: session.StateUnauthenticated}
	if userID := c.GetString(ctxUserID); userID != "" {
		snap.State = session.StateAuthenticated
		user, err := h.users.GetByID(c.Request.Context(), userID)
		if err == nil {
			snap.User = user
		} else {
			snap.ProfileIncomplete = true
		}
	}

	requested := session.Route(c.Query("to"))
	if requested == "" {
		c.Redirect(http.StatusSeeOther, string(session.RouteFor(snap)))
		return
	}
	c.Redirect(http.StatusSeeOther, string(session.Authorize(snap, requested)))
}

type authResponse struct {
	Token             string       `json:"token"`
	User              *domain.User `json:"user,omitempty"`
	ProfileIncomplete bool         `json:"profile_incomplete,omitempty"`
	ProfileError      string       `json:"profile_error,omitempty"`
}

// profileErrorMessage maps a profile setup failure to a message the
// client can act on before retrying via /auth/profile. Internal
// failures stay opaque.
func profileErrorMessage(err error) string {
	if domain.IsValidation(err) || domain.IsConflict(err) {
		return err.Error()
	}
	return "profile setup failed"
}

// SignUp registers a credential and creates the profile with the
// role's starting balance. A profile failure after the credential went
// through still returns the token so the client can retry the profile.
func (h *Handler) SignUp(c *gin.Context) {
	ctx := c.Request.Context()
	var req domain.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(req.Password) < 6 {
		response.UnprocessableEntity(c, "password must be at least 6 characters")
		return
	}
	if len(req.Username) < 3 {
		response.UnprocessableEntity(c, "username must be at least 3 characters")
		return
	}
	if !req.Role.Valid() {
		response.UnprocessableEntity(c, "role must be viewer or broadcaster")
		return
	}

	id, token, err := h.creds.Register(ctx, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	user := &domain.User{
		ID:       id.UserID,
		Role:     req.Role,
		Username: req.Username,
		Email:    req.Email,
		Credits:  h.initialCredits(req.Role),
	}
	if err := h.users.Create(ctx, user); err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldUserID, id.UserID).Msg("profile setup failed after credential creation")
		c.JSON(http.StatusCreated, response.Response{
			Success: true,
			Data: authResponse{
				Token:             token,
				ProfileIncomplete: true,
				ProfileError:      profileErrorMessage(err),
			},
		})
		return
	}

	audit.Record(ctx, audit.ActionSignUp, user.ID).Write()
	response.Created(c, authResponse{Token: token, User: user})
}

// CompleteProfile retries the profile creation of a partial sign-up.
func (h *Handler) CompleteProfile(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(ctxUserID)

	if _, err := h.users.GetByID(ctx, userID); err == nil {
		response.Conflict(c, "profile already exists")
		return
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		h.writeError(c, err)
		return
	}

	var req struct {
		Username string      `json:"username" binding:"required"`
		Role     domain.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(req.Username) < 3 {
		response.UnprocessableEntity(c, "username must be at least 3 characters")
		return
	}
	if !req.Role.Valid() {
		response.UnprocessableEntity(c, "role must be viewer or broadcaster")
		return
	}

	user := &domain.User{
		ID:       userID,
		Role:     req.Role,
		Username: req.Username,
		Email:    c.GetString(ctxEmail),
		Credits:  h.initialCredits(req.Role),
	}
	if err := h.users.Create(ctx, user); err != nil {
		h.writeError(c, err)
		return
	}

	response.Created(c, user)
}

// SignIn verifies a credential, marks the profile online, and returns a
// token.
func (h *Handler) SignIn(c *gin.Context) {
	ctx := c.Request.Context()
	var req domain.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	id, token, err := h.creds.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	user, err := h.users.GetByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			response.Success(c, authResponse{Token: token, ProfileIncomplete: true})
			return
		}
		h.writeError(c, err)
		return
	}

	if err := h.users.SetOnline(ctx, user.ID, true); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, user.ID).Msg("failed to mark user online")
	} else {
		user.IsOnline = true
	}

	audit.Record(ctx, audit.ActionSignIn, user.ID).Write()
	response.Success(c, authResponse{Token: token, User: user})
}

// SignOut revokes outstanding tokens. The offline mark is best-effort:
// sign-out succeeds either way.
func (h *Handler) SignOut(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(ctxUserID)

	if err := h.users.SetOnline(ctx, userID, false); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to mark user offline during sign-out")
	}

	h.tokens.Revoke(userID)
	audit.Record(ctx, audit.ActionSignOut, userID).Write()
	response.Success(c, gin.H{"signed_out": true})
}

// GetMe returns the caller's profile.
func (h *Handler) GetMe(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, user)
}

// UpdateMe patches the caller's profile.
func (h *Handler) UpdateMe(c *gin.Context) {
	var req domain.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), c.GetString(ctxUserID), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, user)
}

// GetProfile returns a public profile by username.
func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.users.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, user.ToPublic())
}

// ListStreams serves the stream directory.
func (h *Handler) ListStreams(c *gin.Context) {
	var req domain.ListStreamsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.streams.List(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// GetStream returns one stream.
func (h *Handler) GetStream(c *gin.Context) {
	stream, err := h.streams.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, stream)
}

// CreateStream registers a stream for the calling broadcaster.
func (h *Handler) CreateStream(c *gin.Context) {
	var req domain.CreateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	stream, err := h.streams.Create(c.Request.Context(), c.GetString(ctxUserID), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, stream)
}

// UpdateStream patches stream metadata.
func (h *Handler) UpdateStream(c *gin.Context) {
	var req domain.UpdateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	stream, err := h.streams.UpdateMeta(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, stream)
}

// StartStream flips a stream live.
func (h *Handler) StartStream(c *gin.Context) {
	stream, err := h.streams.Start(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, stream)
}

// EndStream takes a stream offline and clears its presence.
func (h *Handler) EndStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, err := h.streams.End(ctx, c.Param("id"), c.GetString(ctxUserID))
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.presence != nil {
		if err := h.presence.Clear(ctx, stream.ID); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldStreamID, stream.ID).Msg("failed to clear presence")
		}
	}
	response.Success(c, stream)
}

// MessageHistory returns a stream's recent chat in ascending order.
func (h *Handler) MessageHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	messages, err := h.chat.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, messages)
}

// SendMessage appends a chat message.
func (h *Handler) SendMessage(c *gin.Context) {
	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, msg)
}

// SendTip transfers credits to the stream's broadcaster.
func (h *Handler) SendTip(c *gin.Context) {
	ctx := c.Request.Context()
	var req struct {
		Amount  int64  `json:"amount" binding:"required"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	stream, err := h.streams.Get(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	fromID := c.GetString(ctxUserID)
	tip, err := h.ledger.Transfer(ctx, fromID, stream.BroadcasterID, req.Amount, stream.ID, req.Message)
	if err != nil {
		h.writeError(c, err)
		return
	}

	audit.Record(ctx, audit.ActionTip, fromID).
		Target(stream.BroadcasterID).
		Stream(stream.ID).
		Amount(req.Amount).
		Write()
	response.Created(c, tip)
}

// JoinStream registers the caller as a viewer of the stream.
func (h *Handler) JoinStream(c *gin.Context) {
	count, err := h.presence.Join(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"viewers": count})
}

// LeaveStream removes the caller from the stream's viewers.
func (h *Handler) LeaveStream(c *gin.Context) {
	count, err := h.presence.Leave(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"viewers": count})
}

// Heartbeat keeps the caller's presence alive.
func (h *Handler) Heartbeat(c *gin.Context) {
	if err := h.presence.Heartbeat(c.Request.Context(), c.GetString(ctxUserID)); err != nil {
		response.NotFound(c, "no active presence")
		return
	}
	response.Success(c, gin.H{"ok": true})
}

// StartShow opens a private show for the calling viewer.
func (h *Handler) StartShow(c *gin.Context) {
	var req domain.StartShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	show, err := h.shows.Start(c.Request.Context(), c.GetString(ctxUserID), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, show)
}

// GetShow returns one show to its participants.
func (h *Handler) GetShow(c *gin.Context) {
	show, err := h.shows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	callerID := c.GetString(ctxUserID)
	if callerID != show.ViewerID && callerID != show.BroadcasterID {
		response.Forbidden(c, "show does not involve caller")
		return
	}
	response.Success(c, show)
}

// EndShow finishes a show and settles its cost.
func (h *Handler) EndShow(c *gin.Context) {
	show, err := h.shows.End(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, show)
}

// CancelShow finishes a show without settlement.
func (h *Handler) CancelShow(c *gin.Context) {
	show, err := h.shows.Cancel(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, show)
}

func (h *Handler) initialCredits(role domain.Role) int64 {
	if role == domain.RoleBroadcaster {
		return h.credits.InitialBroadcasterCredits
	}
	return h.credits.InitialViewerCredits
}

// writeError maps domain errors onto the response envelope.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case domain.IsValidation(err):
		response.UnprocessableEntity(c, err.Error())
	case domain.IsAuth(err):
		response.Unauthorized(c, err.Error())
	case domain.IsConflict(err):
		response.Conflict(c, err.Error())
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrStreamNotFound),
		errors.Is(err, domain.ErrShowNotFound):
		response.NotFound(c, err.Error())
	case domain.IsTransport(err):
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("transport failure")
		response.Error(c, http.StatusBadGateway, "UPSTREAM_ERROR", "upstream dependency failed")
	default:
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
		response.InternalError(c, "internal error")
	}
}
