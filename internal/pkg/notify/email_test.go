package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/Moises833/StudyHub/internal/config"
	"github.com/Moises833/StudyHub/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendVerificationCode_RequiresConfig(t *testing.T) {
	n := NewEmailNotifier(&config.EmailConfig{}, testLogger())

	if err := n.SendVerificationCode("ana@uni.edu", "123456"); err == nil {
		t.Fatal("missing smtp config must be an error for verification codes")
	}
}

func TestSendVerificationCode_RequiresRecipient(t *testing.T) {
	n := NewEmailNotifier(&config.EmailConfig{
		SMTPHost:  "smtp.example.com",
		SMTPPort:  587,
		SMTPUser:  "user",
		FromEmail: "studyhub@example.com",
	}, testLogger())

	if err := n.SendVerificationCode("  ", "123456"); err == nil {
		t.Fatal("empty recipient must be an error")
	}
}

func TestSendEventReminder_SkipsWhenUnconfigured(t *testing.T) {
	n := NewEmailNotifier(&config.EmailConfig{}, testLogger())

	ev := &model.Event{Title: "Examen", Date: "2026-09-15", Type: model.EventTypeExamen}
	// 提醒是尽力而为的，缺配置时跳过而不是报错
	if err := n.SendEventReminder(context.Background(), "ana@uni.edu", ev); err != nil {
		t.Fatalf("unconfigured reminder must be a silent skip, got %v", err)
	}
}
