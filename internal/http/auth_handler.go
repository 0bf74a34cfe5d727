package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"authgate/internal/identity"
	"authgate/internal/service"
)

const (
	authCookieName  = "auth"
	stateCookieName = "oauth_state"

	sessionCookieMaxAge = 3600
	stateCookieMaxAge   = 600
)

// AuthHandler mantiene dependencias para los endpoints de autenticación.
type AuthHandler struct {
	logger      *zap.Logger
	accountServ *service.AccountService
	tokenServ   *service.TokenService
	providers   map[string]identity.Provider
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(
	logger *zap.Logger,
	accountServ *service.AccountService,
	tokenServ *service.TokenService,
	providers []identity.Provider,
) *AuthHandler {
	byName := make(map[string]identity.Provider, len(providers))
	for _, p := range providers {
		if p != nil {
			byName[p.Name()] = p
		}
	}
	return &AuthHandler{
		logger:      logger,
		accountServ: accountServ,
		tokenServ:   tokenServ,
		providers:   byName,
	}
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	account, err := h.accountServ.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.renderError(c, err, "could not register")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account": account})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	account, err := h.accountServ.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.renderError(c, err, "could not login")
		return
	}

	token, err := h.tokenServ.Mint(service.KindSession, account.ID)
	if err != nil {
		h.logger.Error("session mint failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue session"})
		return
	}

	h.setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"account": account, "token": token})
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authCookieName, "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

// Verify maneja GET /auth/verify.
func (h *AuthHandler) Verify(c *gin.Context) {
	token := c.Query("token")
	account, err := h.accountServ.ConfirmEmail(c.Request.Context(), token)
	if err != nil {
		h.renderError(c, err, "could not verify email")
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// ResendVerification maneja POST /auth/resend-verification. La respuesta es
// la misma exista o no el email.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.accountServ.RequestVerification(c.Request.Context(), req.Email); err != nil {
		h.renderError(c, err, "could not process request")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "verification_requested"})
}

// ForgotPassword maneja POST /auth/forgot-password. La respuesta es la misma
// exista o no el email.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.accountServ.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.renderError(c, err, "could not process request")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "reset_requested"})
}

// CheckResetToken maneja GET /auth/reset-password.
func (h *AuthHandler) CheckResetToken(c *gin.Context) {
	if err := h.accountServ.CheckResetToken(c.Request.Context(), c.Query("token")); err != nil {
		h.renderError(c, err, "could not validate token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ResetPassword maneja POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	token := req.Token
	if token == "" {
		token = c.Query("token")
	}

	if err := h.accountServ.ResetPassword(c.Request.Context(), token, req.Password); err != nil {
		h.renderError(c, err, "could not reset password")
		return
	}
	c.Status(http.StatusNoContent)
}

// ProviderLogin maneja GET /auth/:provider/login.
func (h *AuthHandler) ProviderLogin(c *gin.Context) {
	provider, ok := h.providers[c.Param("provider")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, stateCookieMaxAge, "/", "", false, true)
	c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

// ProviderCallback maneja GET /auth/:provider/callback.
func (h *AuthHandler) ProviderCallback(c *gin.Context) {
	provider, ok := h.providers[c.Param("provider")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	state := c.Query("state")
	stored, err := c.Cookie(stateCookieName)
	if err != nil || state == "" || state != stored {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	accessToken, err := provider.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("code exchange failed", zap.String("provider", provider.Name()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider exchange failed"})
		return
	}

	profile, err := provider.FetchProfile(c.Request.Context(), accessToken)
	if err != nil {
		h.logger.Warn("profile fetch failed", zap.String("provider", provider.Name()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider profile fetch failed"})
		return
	}

	account, err := h.accountServ.ResolveExternal(c.Request.Context(), provider.Name(), profile)
	if err != nil {
		h.renderError(c, err, "could not resolve account")
		return
	}

	token, err := h.tokenServ.Mint(service.KindSession, account.ID)
	if err != nil {
		h.logger.Error("session mint failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue session"})
		return
	}

	h.setSessionCookie(c, token)
	c.Redirect(http.StatusFound, "/dashboard")
}

// Me maneja GET /users/me.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	account, err := h.accountServ.GetAccount(c.Request.Context(), claims.AccountID)
	if err != nil {
		h.renderError(c, err, "could not load account")
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authCookieName, token, sessionCookieMaxAge, "/", "", false, true)
}

// renderError traduce la taxonomía de errores del servicio a respuestas
// HTTP. Los fallos de persistencia no esperados salen como mensaje genérico
// sin detalles internos.
func (h *AuthHandler) renderError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, service.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	case errors.Is(err, service.ErrAccountNotVerified):
		c.JSON(http.StatusForbidden, gin.H{"error": "account not verified"})
	case errors.Is(err, service.ErrAccountInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": "account inactive"})
	case errors.Is(err, service.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, service.ErrDuplicateAccount):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, try again"})
	}
}
