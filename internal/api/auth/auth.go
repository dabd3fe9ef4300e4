package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Moises833/StudyHub/internal/model"
	"github.com/Moises833/StudyHub/internal/pkg/notify"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Handler 提供加固版注册与登录接口（usuarios 表）。
type Handler struct {
	db     *gorm.DB
	mailer notify.Notifier
	logger *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(db *gorm.DB, mailer notify.Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		db:     db,
		mailer: mailer,
		logger: logger,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required,min=3"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type accountView struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func toView(a *model.Account) accountView {
	return accountView{ID: a.ID, Name: a.Name, Email: a.Email}
}

// Register 创建新账户并发送验证码。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Datos inválidos: " + err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	var existing model.Account
	err := h.db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		if existing.IsVerified {
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "El usuario ya existe"})
			return
		}
		if err := h.issueCode(&existing); err != nil {
			if h.logger != nil {
				h.logger.Warn("issue verification code failed", slog.String("email", email), slog.String("error", err.Error()))
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error en el servidor"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Código de verificación enviado", "user": toView(&existing)})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error en el servidor"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error en el servidor"})
		return
	}

	account := model.Account{
		Name:     strings.TrimSpace(req.Name),
		Email:    email,
		Password: string(hash),
	}
	if err := h.db.Create(&account).Error; err != nil {
		if h.logger != nil {
			h.logger.Error("create account failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error en el servidor"})
		return
	}
	if err := h.issueCode(&account); err != nil {
		if h.logger != nil {
			h.logger.Warn("issue verification code failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		// 验证码发送失败不回滚账户，允许稍后 resend。
	}

	if h.logger != nil {
		h.logger.Info("account registered", slog.String("email", email))
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Usuario registrado exitosamente", "user": toView(&account)})
}

// Login 校验账户凭据。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Datos inválidos: " + err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	var account model.Account
	if err := h.db.Where("email = ?", email).First(&account).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Credenciales inválidas"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Credenciales inválidas"})
		return
	}

	if !account.IsVerified {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Cuenta no verificada"})
		return
	}

	if h.logger != nil {
		h.logger.Info("account logged in", slog.String("email", email))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Inicio de sesión exitoso", "user": toView(&account)})
}

// VerifyEmail 校验验证码。
func (h *Handler) VerifyEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Datos inválidos: " + err.Error()})
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	var account model.Account
	if err := h.db.Where("email = ?", email).First(&account).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Código inválido"})
		return
	}
	if account.IsVerified {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Cuenta ya verificada"})
		return
	}
	if account.VerifyCode == "" || account.VerifyCode != strings.TrimSpace(req.Code) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Código inválido"})
		return
	}
	if account.VerifyCodeExpiresAt == nil || time.Now().After(*account.VerifyCodeExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Código expirado"})
		return
	}

	account.IsVerified = true
	account.VerifyCode = ""
	account.VerifyCodeExpiresAt = nil
	account.VerifyCodeSentAt = nil
	if err := h.db.Save(&account).Error; err != nil {
		if h.logger != nil {
			h.logger.Error("verify failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error en el servidor"})
		return
	}

	if h.logger != nil {
		h.logger.Info("email verified", slog.String("email", email))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Cuenta verificada"})
}

// ResendCode 重新发送验证码（60 秒频控）。
func (h *Handler) ResendCode(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Datos inválidos: " + err.Error()})
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	var account model.Account
	if err := h.db.Where("email = ?", email).First(&account).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Correo no encontrado"})
		return
	}
	if account.IsVerified {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Cuenta ya verificada"})
		return
	}

	if account.VerifyCodeSentAt != nil && time.Since(*account.VerifyCodeSentAt) < 60*time.Second {
		remain := int(60 - time.Since(*account.VerifyCodeSentAt).Seconds())
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "Demasiadas solicitudes", "retry_after": remain})
		return
	}

	if err := h.issueCode(&account); err != nil {
		if h.logger != nil {
			h.logger.Warn("resend verification failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error en el servidor"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Código de verificación enviado"})
}

func (h *Handler) issueCode(account *model.Account) error {
	code, err := generateCode(6)
	if err != nil {
		return fmt.Errorf("generate code failed")
	}
	exp := time.Now().Add(10 * time.Minute)
	now := time.Now()

	account.VerifyCode = code
	account.VerifyCodeExpiresAt = &exp
	account.VerifyCodeSentAt = &now

	if err := h.db.Save(account).Error; err != nil {
		if h.logger != nil {
			h.logger.Error("save verification code failed", slog.String("email", account.Email), slog.String("error", err.Error()))
		}
		return fmt.Errorf("save code failed")
	}
	if h.mailer == nil {
		return fmt.Errorf("email notifier not configured")
	}
	if err := h.mailer.SendVerificationCode(account.Email, code); err != nil {
		if h.logger != nil {
			h.logger.Warn("send verification email failed", slog.String("email", account.Email), slog.String("error", err.Error()))
		}
		return fmt.Errorf("send verification failed")
	}
	return nil
}

func generateCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid code length")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = '0' + (buf[i] % 10)
	}
	return string(buf), nil
}
