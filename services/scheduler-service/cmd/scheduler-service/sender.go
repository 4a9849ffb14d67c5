package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/vdental/chairbook/libs/config"
	"github.com/vdental/chairbook/services/scheduler-service/internal/whatsapp"
)

// newSender picks the WhatsApp transport. WHATSAPP_PROVIDER wins; otherwise a
// 360dialog key selects 360dialog and anything else falls back to noop.
func newSender(logger *slog.Logger) (whatsapp.Sender, error) {
	provider := strings.ToLower(config.String("WHATSAPP_PROVIDER", ""))
	apiKey := config.String("D360_API_KEY", "")
	if provider == "" {
		provider = "noop"
		if apiKey != "" {
			provider = "360dialog"
		}
	}

	switch provider {
	case "360dialog", "d360":
		if apiKey == "" {
			return nil, fmt.Errorf("D360_API_KEY is required for provider %q", provider)
		}
		return whatsapp.NewD360Sender(config.String("D360_BASE_URL", ""), apiKey), nil
	case "webhook":
		url, err := config.RequiredString("WHATSAPP_WEBHOOK_URL")
		if err != nil {
			return nil, err
		}
		return whatsapp.NewWebhookSender(url, config.String("WHATSAPP_WEBHOOK_TOKEN", "")), nil
	case "noop":
		logger.Warn("whatsapp sender is noop: reminders are marked sent without delivery")
		return whatsapp.NewNoopSender(), nil
	default:
		return nil, fmt.Errorf("unknown WHATSAPP_PROVIDER %q", provider)
	}
}
