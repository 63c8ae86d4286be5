package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-medrec/internal/broker"
	"github.com/prefeitura-rio/app-medrec/internal/middleware"
	"github.com/prefeitura-rio/app-medrec/internal/models"
	"github.com/prefeitura-rio/app-medrec/internal/observability"
	"github.com/prefeitura-rio/app-medrec/internal/records"
	"github.com/prefeitura-rio/app-medrec/internal/sessions"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-challenge error
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChallengeResponse is the snapshot of the session's challenge. Error is set
// when the last operation was refused or failed.
type ChallengeResponse struct {
	broker.Snapshot
	Error *broker.ChallengeError `json:"error,omitempty"`
}

// AuthorizationHandlers serves the step-up authorization API
type AuthorizationHandlers struct {
	sessions *sessions.Registry
	repo     records.Repository
	resumer  *records.Resumer
}

// NewAuthorizationHandlers creates the handlers
func NewAuthorizationHandlers(registry *sessions.Registry, repo records.Repository, resumer *records.Resumer) *AuthorizationHandlers {
	return &AuthorizationHandlers{sessions: registry, repo: repo, resumer: resumer}
}

// Register mounts the authorization routes on rg
func (h *AuthorizationHandlers) Register(rg *gin.RouterGroup) {
	rg.DELETE("/sessions/current", middleware.RequireSession(), h.EndSession)

	auth := rg.Group("/authorizations", middleware.RequireSession())
	auth.POST("", h.RequestAuthorization)

	current := auth.Group("/current")
	current.GET("", h.GetCurrent)
	current.DELETE("", h.Cancel)
	current.PUT("/phone", h.SubmitPhone)
	current.POST("/send", h.Send)
	current.PUT("/digits/:index", h.SubmitDigit)
	current.POST("/paste", h.SubmitPaste)
	current.POST("/verify", h.Verify)
	current.POST("/resend", h.Resend)
	current.POST("/back", h.Back)
}

// RequestAuthorization godoc
// @Summary Open a step-up challenge
// @Description Suspends the intent and opens a phone verification challenge for it. An open challenge of the same session is discarded.
// @Tags authorization
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Param data body models.AuthorizationRequest true "Intent to authorize"
// @Success 201 {object} ChallengeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse "Patient not found"
// @Router /authorizations [post]
func (h *AuthorizationHandlers) RequestAuthorization(c *gin.Context) {
	logger := observability.Logger().With(zap.String("session_id", middleware.SessionID(c)))

	var req models.AuthorizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	logger.Debug("authorization requested", zap.Any("request", observability.MaskSensitiveData(map[string]interface{}{
		"kind":         req.Kind,
		"subject_id":   req.SubjectID,
		"phone_number": req.PhoneNumber,
		"has_payload":  len(req.Payload) > 0,
	})))

	kind, err := models.ParseIntentKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	payload, err := models.DecodeIntentPayload(kind, req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	intent := models.Intent{Kind: kind, SubjectID: req.SubjectID, Payload: payload}
	if err := intent.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	handler, err := h.resumer.HandlerFor(kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	seed := req.PhoneNumber
	if seed == "" {
		patient, err := h.repo.GetPatient(c.Request.Context(), req.SubjectID)
		switch {
		case errors.Is(err, models.ErrPatientNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Patient not found"})
			return
		case err != nil:
			logger.Warn("failed to load patient phone, opening challenge without it", zap.Error(err))
		default:
			seed = patient.PhoneNumber
		}
	}

	b, ok := h.broker(c)
	if !ok {
		return
	}
	snap, err := b.RequestAuthorization(intent, handler, seed)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ChallengeResponse{Snapshot: snap})
}

// GetCurrent godoc
// @Summary Current challenge
// @Tags authorization
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Success 200 {object} ChallengeResponse
// @Failure 404 {object} ErrorResponse
// @Router /authorizations/current [get]
func (h *AuthorizationHandlers) GetCurrent(c *gin.Context) {
	h.run(c, func(b *broker.Broker) (broker.Snapshot, error) { return b.Snapshot() })
}

// SubmitPhone godoc
// @Summary Set the phone number of the challenge
// @Tags authorization
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Param data body models.PhoneRequest true "Phone number"
// @Success 200 {object} ChallengeResponse
// @Failure 422 {object} ChallengeResponse
// @Router /authorizations/current/phone [put]
func (h *AuthorizationHandlers) SubmitPhone(c *gin.Context) {
	var req models.PhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}
	h.run(c, func(b *broker.Broker) (broker.Snapshot, error) { return b.SubmitPhone(req.PhoneNumber) })
}

// Send godoc
// @Summary Send the one-time code
// @Description Validates the phone number and asks the OTP service to text a code. A refused send is reported in last_error.
// @Tags authorization
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Success 200 {object} ChallengeResponse
// @Failure 422 {object} ChallengeResponse "Invalid phone or wrong step"
// @Router /authorizations/current/send [post]
func (h *AuthorizationHandlers) Send(c *gin.Context) {
	h.run(c, func(b *broker.Broker) (broker.Snapshot, error) { return b.Send(c.Request.Context()) })
}

// SubmitDigit godoc
// @Summary Edit one code digit
// @Description An empty value clears the slot.
// @Tags authorization
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Param index path int true "Slot index, 0 to 3"
// @Param data body models.DigitRequest true "Digit"
// @Success 200 {object} ChallengeResponse
// @Failure 422 {object} ChallengeResponse
// @Router /authorizations/current/digits/{index} [put]
func (h *AuthorizationHandlers) SubmitDigit(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid digit index"})
		return
	}
	var req models.DigitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}
	h.run(c, func(b *broker.Broker) (broker.Snapshot, error) { return b.SubmitDigit(index, req.Value) })
}

// SubmitPaste godoc
// @Summary Paste a code
// @Tags authorization
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Param data body models.PasteRequest true "Pasted text"
// @Success 200 {object} ChallengeResponse
// @Failure 422 {object} ChallengeResponse
// @Router /authorizations/current/paste [post]
func (h *AuthorizationHandlers) SubmitPaste(c *gin.Context) {
	var req models.PasteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}
	h.run(c, func(b *broker.Broker) (broker.Snapshot, error) { return b.SubmitPaste(req.Text) })
}

// Verify godoc
// @Summary Verify the entered code
// @Description On success the suspended intent runs and its result is returned in the snapshot.
// @Tags authorization
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Success 200 {object} ChallengeResponse
// @Failure 422 {object} ChallengeResponse "Incomplete code or wrong step"
// @Router /authorizations/current/verify [post]
func (h *AuthorizationHandlers) Verify(c *gin.Context) {
	h.run(c, func(b *broker.Broker) (broker.Snapshot, error) { return b.Verify(c.Request.Context()) })
}

// Resend godoc
// @Summary Resend the code once the cooldown is over
// @Tags authorization
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Success 200 {object} ChallengeResponse
// @Failure 422 {object} ChallengeResponse "Cooldown active"
// @Router /authorizations/current/resend [post]
func (h *AuthorizationHandlers) Resend(c *gin.Context) {
	h.run(c, func(b *broker.Broker) (broker.Snapshot, error) { return b.Resend(c.Request.Context()) })
}

// Back godoc
// @Summary Return to phone entry
// @Tags authorization
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Success 200 {object} ChallengeResponse
// @Router /authorizations/current/back [post]
func (h *AuthorizationHandlers) Back(c *gin.Context) {
	h.run(c, func(b *broker.Broker) (broker.Snapshot, error) { return b.Back() })
}

// Cancel godoc
// @Summary Cancel the challenge
// @Description Discards the challenge and its intent. Cancelling a finished challenge is a no-op.
// @Tags authorization
// @Produce json
// @Param X-Session-ID header string true "Client session"
// @Success 200 {object} ChallengeResponse
// @Failure 404 {object} ErrorResponse
// @Router /authorizations/current [delete]
func (h *AuthorizationHandlers) Cancel(c *gin.Context) {
	h.run(c, func(b *broker.Broker) (broker.Snapshot, error) { return b.Cancel() })
}

// EndSession godoc
// @Summary End the client session
// @Description Discards the session's open challenge and forgets the session. Ending an unknown session is a no-op.
// @Tags authorization
// @Param X-Session-ID header string true "Client session"
// @Success 204 "Session ended"
// @Failure 400 {object} ErrorResponse
// @Router /sessions/current [delete]
func (h *AuthorizationHandlers) EndSession(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	if h.sessions.Remove(sessionID) {
		observability.Logger().Info("session ended", zap.String("session_id", sessionID))
	}
	c.Status(http.StatusNoContent)
}

func (h *AuthorizationHandlers) broker(c *gin.Context) (*broker.Broker, bool) {
	b, err := h.sessions.Get(middleware.SessionID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return nil, false
	}
	return b, true
}

func (h *AuthorizationHandlers) run(c *gin.Context, op func(b *broker.Broker) (broker.Snapshot, error)) {
	b, ok := h.broker(c)
	if !ok {
		return
	}
	snap, err := op(b)
	respond(c, snap, err)
}

// respond maps a broker result to HTTP. Local rejections are 422; channel
// outcomes are already folded into last_error and answer 200.
func respond(c *gin.Context, snap broker.Snapshot, err error) {
	if err == nil {
		c.JSON(http.StatusOK, ChallengeResponse{Snapshot: snap})
		return
	}
	if errors.Is(err, broker.ErrNoChallenge) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}

	var ce *broker.ChallengeError
	if !errors.As(err, &ce) {
		observability.Logger().Error("unexpected broker error",
			zap.String("session_id", middleware.SessionID(c)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	status := http.StatusOK
	if broker.IsRejection(err) {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, ChallengeResponse{Snapshot: snap, Error: ce})
}
