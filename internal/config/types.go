package config

// Config is the top-level configuration carrier for vigil.
type Config struct {
	App      AppConfig      `toml:"app"`
	Cycle    CycleConfig    `toml:"cycle"`
	Market   MarketConfig   `toml:"market"`
	Decision DecisionConfig `toml:"decision"`
	Exchange ExchangeConfig `toml:"exchange"`
	Risk     RiskConfig     `toml:"risk"`
	Store    StoreConfig    `toml:"store"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// CycleConfig controls the orchestrator cadence and per-step deadlines.
type CycleConfig struct {
	Instruments        []string `toml:"instruments"`
	IntervalSeconds    int      `toml:"interval_seconds"`
	DataDeadlineMS     int      `toml:"data_deadline_ms"`
	DecisionDeadlineMS int      `toml:"decision_deadline_ms"`
	ExecuteDeadlineMS  int      `toml:"execute_deadline_ms"`
	MaxOpensPerCycle   int      `toml:"max_opens_per_cycle"`
	RunImmediately     bool     `toml:"run_immediately"`
}

type MarketConfig struct {
	KlineInterval    string `toml:"kline_interval"`
	KlineLimit       int    `toml:"kline_limit"`
	StalenessSeconds int    `toml:"staleness_seconds"`
}

// DecisionConfig points at the external decision source.
type DecisionConfig struct {
	Endpoint       string `toml:"endpoint"`
	SourceID       string `toml:"source_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ExchangeConfig selects the execution venue. Mode "paper" runs the
// in-process simulator; "binance" targets USD-M futures.
type ExchangeConfig struct {
	Mode      string `toml:"mode"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Testnet   bool   `toml:"testnet"`
}

// RiskConfig locates the hot-reloadable limits profile.
type RiskConfig struct {
	LimitsPath string `toml:"limits_path"`
	Watch      bool   `toml:"watch"`
}

type StoreConfig struct {
	Path      string `toml:"path"`
	AuditPath string `toml:"audit_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
