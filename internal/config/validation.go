package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if len(c.Cycle.Instruments) == 0 {
		return fmt.Errorf("config: cycle.instruments must list at least one instrument")
	}
	seen := make(map[string]bool, len(c.Cycle.Instruments))
	for i, sym := range c.Cycle.Instruments {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" {
			return fmt.Errorf("config: cycle.instruments[%d] is empty", i)
		}
		if seen[s] {
			return fmt.Errorf("config: duplicate instrument %s", s)
		}
		seen[s] = true
		c.Cycle.Instruments[i] = s
	}

	switch strings.ToLower(strings.TrimSpace(c.Exchange.Mode)) {
	case "paper":
	case "binance":
		if strings.TrimSpace(c.Exchange.APIKey) == "" || strings.TrimSpace(c.Exchange.APISecret) == "" {
			return fmt.Errorf("config: exchange.mode=binance requires api_key and api_secret")
		}
	default:
		return fmt.Errorf("config: unknown exchange.mode %q", c.Exchange.Mode)
	}

	if strings.TrimSpace(c.Decision.Endpoint) == "" {
		return fmt.Errorf("config: decision.endpoint is required")
	}

	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.BotToken) == "" || strings.TrimSpace(c.Notify.Telegram.ChatID) == "" {
			return fmt.Errorf("config: notify.telegram enabled but bot_token/chat_id missing")
		}
	}
	return nil
}
