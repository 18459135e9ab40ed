package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/api/auth"
	"github.com/photosync-io/photosync/pkg/models"
	"github.com/photosync-io/photosync/pkg/store"
	"github.com/photosync-io/photosync/pkg/subscription"
)

// AuthHandler serves registration and login.
type AuthHandler struct {
	store      *store.Store
	jwtService *auth.JWTService
	resolver   *subscription.Resolver
	bcryptCost int
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(s *store.Store, jwtService *auth.JWTService, resolver *subscription.Resolver, bcryptCost int) *AuthHandler {
	if bcryptCost == 0 {
		bcryptCost = 10
	}
	return &AuthHandler{store: s, jwtService: jwtService, resolver: resolver, bcryptCost: bcryptCost}
}

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	PlanGB     int    `json:"plan_gb"`
	DeviceUUID string `json:"device_uuid"`
	DeviceName string `json:"device_name"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceUUID string `json:"device_uuid"`
	DeviceName string `json:"device_name"`

	// AppUserID is the payment processor's app-user id; webhook events
	// are keyed by it. Defaults to the account uuid when absent.
	AppUserID string `json:"app_user_id"`
}

type authResponse struct {
	UserID    uint   `json:"userId"`
	UserUUID  string `json:"userUuid"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

func validPlanGB(gb int) bool {
	for _, v := range models.ValidPlanGB {
		if gb == v {
			return true
		}
	}
	return false
}

// Register creates a user. A non-zero plan_gb starts a trial of that
// tier. When a device uuid is supplied the response carries a token so
// the client can start syncing without a separate login.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	email := store.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		BadRequest(w, "valid email required")
		return
	}
	if len(req.Password) < 6 {
		BadRequest(w, "password must be at least 6 characters")
		return
	}
	if req.PlanGB != 0 && !validPlanGB(req.PlanGB) {
		BadRequest(w, "unknown plan tier")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		InternalServerError(w, "failed to hash password")
		return
	}

	user, err := h.store.CreateUser(r.Context(), email, string(hash))
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEmail) {
			Conflict(w, "email already registered")
			return
		}
		logger.ErrorCtx(r.Context(), "failed to create user", "error", err)
		InternalServerError(w, "failed to create user")
		return
	}

	// Every user gets a plan row. Without a tier it sits in status none
	// so a later purchase event has a row to activate.
	plan := &models.UserPlan{UserID: user.ID, Status: models.PlanStatusNone}
	if req.PlanGB != 0 {
		trialUntil := h.resolver.TrialUntil(time.Now())
		plan.PlanGB = &req.PlanGB
		plan.Status = models.PlanStatusTrial
		plan.TrialUntil = &trialUntil
	}
	if err := h.store.CreatePlan(r.Context(), plan); err != nil {
		logger.ErrorCtx(r.Context(), "failed to create plan",
			"user_id", user.ID, "error", err)
		InternalServerError(w, "failed to create plan")
		return
	}

	resp := authResponse{UserID: user.ID, UserUUID: user.UserUUID}
	if req.DeviceUUID != "" {
		if _, err := h.store.UpsertDevice(r.Context(), user.ID, req.DeviceUUID, req.DeviceName); err != nil {
			logger.WarnCtx(r.Context(), "failed to record device", "error", err)
		}
		tok, err := h.jwtService.GenerateToken(user, req.DeviceUUID)
		if err != nil {
			InternalServerError(w, "failed to issue token")
			return
		}
		resp.Token = tok.AccessToken
		resp.ExpiresAt = tok.ExpiresAt.UnixMilli()
	}

	logger.InfoCtx(r.Context(), "user registered", "user_id", user.ID, "plan_gb", req.PlanGB)
	WriteJSONCreated(w, resp)
}

// Login validates credentials, records the device and issues a token
// bound to it.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if req.DeviceUUID == "" {
		BadRequest(w, "device_uuid required")
		return
	}

	user, err := h.store.ValidateCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			Unauthorized(w, "invalid email or password")
			return
		}
		logger.ErrorCtx(r.Context(), "login failed", "error", err)
		InternalServerError(w, "login failed")
		return
	}

	if _, err := h.store.UpsertDevice(r.Context(), user.ID, req.DeviceUUID, req.DeviceName); err != nil {
		logger.ErrorCtx(r.Context(), "failed to record device",
			"user_id", user.ID, "error", err)
		InternalServerError(w, "failed to record device")
		return
	}

	appUserID := req.AppUserID
	if appUserID == "" {
		appUserID = user.UserUUID
	}
	if err := h.store.BindAppUserID(r.Context(), user.ID, appUserID); err != nil {
		// Login still succeeds; the binding is retried on the next login.
		logger.WarnCtx(r.Context(), "failed to bind app user id",
			"user_id", user.ID, "error", err)
	}

	tok, err := h.jwtService.GenerateToken(user, req.DeviceUUID)
	if err != nil {
		InternalServerError(w, "failed to issue token")
		return
	}

	logger.InfoCtx(r.Context(), "user logged in", "user_id", user.ID, "device_uuid", req.DeviceUUID)
	WriteJSONOK(w, authResponse{
		UserID:    user.ID,
		UserUUID:  user.UserUUID,
		Token:     tok.AccessToken,
		ExpiresAt: tok.ExpiresAt.UnixMilli(),
	})
}
