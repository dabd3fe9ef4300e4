package notify

import (
	"context"

	"github.com/Moises833/StudyHub/internal/model"
)

// Notifier 定义通知接口。
type Notifier interface {
	// SendVerificationCode 发送注册验证码。
	SendVerificationCode(toEmail string, code string) error

	// SendEventReminder 发送日历事件到期提醒。
	SendEventReminder(ctx context.Context, toEmail string, ev *model.Event) error
}
