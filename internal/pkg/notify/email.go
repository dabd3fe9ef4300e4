package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Moises833/StudyHub/internal/config"
	"github.com/Moises833/StudyHub/internal/model"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendVerificationCode 发送注册验证码。
func (n *EmailNotifier) SendVerificationCode(toEmail string, code string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[StudyHub] Confirma tu cuenta")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>StudyHub</h2>
    <p>Ingresa este código de confirmación para activar tu cuenta:</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>El código expira en 10 minutos.</p>
  </div>
</body>
</html>`, code)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("verification email sent", slog.String("to", toEmail))
	return nil
}

// SendEventReminder 发送日历事件到期提醒。
func (n *EmailNotifier) SendEventReminder(ctx context.Context, toEmail string, ev *model.Event) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip reminder")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("reminder recipient empty, skip")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[StudyHub] 📅 Recordatorio: "+ev.Title)

	hora := ev.Time
	if hora == "" {
		hora = "todo el día"
	}
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 520px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; padding: 20px;">
    <h2 style="margin-top: 0;">Se acerca una fecha importante</h2>
    <p style="font-size: 18px; font-weight: bold;">%s</p>
    <p>%s · %s</p>
    <p style="color: #6b7280; font-size: 12px;">Tipo: %s</p>
  </div>
</body>
</html>`, ev.Title, ev.Date, hora, ev.Type)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("reminder email sent", slog.String("to", toEmail), slog.String("event", ev.Title))
	return nil
}
