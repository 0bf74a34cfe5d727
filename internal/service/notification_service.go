package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"authgate/internal/domain"
	"authgate/internal/email"
)

// NotificationService renderiza y despacha los correos de verificación y de
// reset. El envío corre en background: un fallo del transporte se loguea y
// se absorbe, nunca llega al caller ni bloquea la respuesta que lo disparó.
type NotificationService struct {
	logger  *zap.Logger
	sender  email.Sender
	baseURL string
}

func NewNotificationService(logger *zap.Logger, sender email.Sender, baseURL string) *NotificationService {
	return &NotificationService{
		logger:  logger,
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NotifyVerification encola el correo con el enlace de verificación.
func (s *NotificationService) NotifyVerification(account domain.Account, token string) {
	link := s.baseURL + "/auth/verify?token=" + url.QueryEscape(token)
	body := fmt.Sprintf(
		`<p>Hi %s,</p>
<p>Please confirm your email address by clicking the link below:</p>
<p><a href="%s">Verify your email</a></p>
<p>The link expires in 24 hours. If you did not create an account, ignore this message.</p>`,
		displayName(account), link,
	)
	s.dispatch(account.Email, "Verify your email", body)
}

// NotifyReset encola el correo con el enlace de cambio de contraseña.
func (s *NotificationService) NotifyReset(account domain.Account, token string) {
	link := s.baseURL + "/auth/reset-password?token=" + url.QueryEscape(token)
	body := fmt.Sprintf(
		`<p>Hi %s,</p>
<p>We received a request to reset your password:</p>
<p><a href="%s">Reset your password</a></p>
<p>If you did not request this, you can safely ignore this message.</p>`,
		displayName(account), link,
	)
	s.dispatch(account.Email, "Reset your password", body)
}

func (s *NotificationService) dispatch(to, subject, htmlBody string) {
	if s.sender == nil {
		if s.logger != nil {
			s.logger.Warn("mail sender not configured", zap.String("subject", subject))
		}
		return
	}
	// Sin timeout ni cancelación: un transporte colgado queda como tarea de
	// fondo, nunca bloquea la request que lo originó.
	go func() {
		if err := s.sender.Send(context.Background(), to, subject, htmlBody); err != nil {
			if s.logger != nil {
				s.logger.Warn("mail delivery failed",
					zap.Error(err),
					zap.String("to", to),
					zap.String("subject", subject),
				)
			}
		}
	}()
}

func displayName(account domain.Account) string {
	if strings.TrimSpace(account.Name) != "" {
		return account.Name
	}
	return account.Email
}
