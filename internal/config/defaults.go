package config

import "strings"

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = "dev"
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}
	if strings.TrimSpace(c.App.HTTPAddr) == "" {
		c.App.HTTPAddr = ":8086"
	}

	if c.Cycle.IntervalSeconds <= 0 {
		c.Cycle.IntervalSeconds = 180
	}
	if c.Cycle.DataDeadlineMS <= 0 {
		c.Cycle.DataDeadlineMS = 2000
	}
	if c.Cycle.DecisionDeadlineMS <= 0 {
		c.Cycle.DecisionDeadlineMS = 1000
	}
	if c.Cycle.ExecuteDeadlineMS <= 0 {
		c.Cycle.ExecuteDeadlineMS = 5000
	}
	if c.Cycle.MaxOpensPerCycle <= 0 {
		c.Cycle.MaxOpensPerCycle = 3
	}

	if strings.TrimSpace(c.Market.KlineInterval) == "" {
		c.Market.KlineInterval = "3m"
	}
	if c.Market.KlineLimit <= 0 {
		c.Market.KlineLimit = 100
	}
	if c.Market.StalenessSeconds <= 0 {
		c.Market.StalenessSeconds = 30
	}

	if c.Decision.TimeoutSeconds <= 0 {
		c.Decision.TimeoutSeconds = 1
	}
	if strings.TrimSpace(c.Decision.SourceID) == "" {
		c.Decision.SourceID = "external"
	}

	if strings.TrimSpace(c.Exchange.Mode) == "" {
		c.Exchange.Mode = "paper"
	}

	if strings.TrimSpace(c.Risk.LimitsPath) == "" {
		c.Risk.LimitsPath = "configs/limits.yaml"
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = "data/vigil.db"
	}
	if strings.TrimSpace(c.Store.AuditPath) == "" {
		c.Store.AuditPath = "data/audit.db"
	}
}
