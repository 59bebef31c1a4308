// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"fmt"
	"text/template"
	"time"

	"github.com/caarlos0/env/v11"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the bridge configuration.
type Config struct {
	Telegram  TelegramConfig   `yaml:"telegram"`
	Instances []InstanceConfig `yaml:"instances"`
	Database  DatabaseConfig   `yaml:"database"`
	Media     MediaConfig      `yaml:"media"`

	// DisplaynameTemplate renders the sender name of forwarded QQ messages.
	DisplaynameTemplate string `yaml:"displayname_template"`
	// TGDisplaynameTemplate renders the sender name of forwarded Telegram
	// messages.
	TGDisplaynameTemplate string `yaml:"tg_displayname_template"`
	// RichHeaderURL is a template for the sender link used when the
	// rich_header flag is set. Leave empty to disable links.
	RichHeaderURL string `yaml:"rich_header_url"`
	// ForwardViewerURL is a template for the link attached to merged-forward
	// previews. Leave empty to show the preview only.
	ForwardViewerURL string `yaml:"forward_viewer_url"`

	RecallInterval      time.Duration `yaml:"recall_interval"`
	RecallRetryAttempts int           `yaml:"recall_retry_attempts"`
	RecallRetryDelay    time.Duration `yaml:"recall_retry_delay"`
	NoticeTTL           time.Duration `yaml:"notice_ttl"`
	AttributionRefresh  string        `yaml:"attribution_refresh"`
	RecoverMaxCount     int           `yaml:"recover_max_count"`
	SearchLimit         int           `yaml:"search_limit"`

	Logging zeroconfig.Config `yaml:"logging"`

	displaynameTemplate   *template.Template `yaml:"-"`
	tgDisplaynameTemplate *template.Template `yaml:"-"`
	richHeaderTemplate    *template.Template `yaml:"-"`
	forwardViewerTemplate *template.Template `yaml:"-"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	APIURL   string `yaml:"api_url"`
}

// InstanceConfig describes the QQ connection of one federation member.
type InstanceConfig struct {
	ID          int64  `yaml:"id"`
	OneBotURL   string `yaml:"onebot_url"`
	AccessToken string `yaml:"access_token"`
	// Owner and Mode seed a new instance. Once stored, the database values
	// win and are changed with bot commands.
	Owner int64  `yaml:"owner"`
	Mode  string `yaml:"mode"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type MediaConfig struct {
	CacheDir string        `yaml:"cache_dir"`
	MaxSize  int64         `yaml:"max_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// envOverrides lists the settings that can be overridden with Q2TG_*
// environment variables.
type envOverrides struct {
	BotToken     string `env:"TELEGRAM_BOT_TOKEN"`
	APIURL       string `env:"TELEGRAM_API_URL"`
	DatabasePath string `env:"DATABASE_PATH"`
	MediaDir     string `env:"MEDIA_CACHE_DIR"`
}

// QQDisplaynameParams holds the parameters for rendering QQ sender names.
type QQDisplaynameParams struct {
	ID   int64
	Name string
}

// DisplaynameParams holds the parameters for rendering Telegram sender names.
type DisplaynameParams struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// RichHeaderParams holds the parameters for rendering RichHeaderURL.
type RichHeaderParams struct {
	ID     int64
	RoomID int64
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// ApplyEnv overrides config values with Q2TG_* environment variables.
func (c *Config) ApplyEnv() error {
	var overrides envOverrides
	if err := env.ParseWithOptions(&overrides, env.Options{Prefix: "Q2TG_"}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if overrides.BotToken != "" {
		c.Telegram.BotToken = overrides.BotToken
	}
	if overrides.APIURL != "" {
		c.Telegram.APIURL = overrides.APIURL
	}
	if overrides.DatabasePath != "" {
		c.Database.Path = overrides.DatabasePath
	}
	if overrides.MediaDir != "" {
		c.Media.CacheDir = overrides.MediaDir
	}
	return nil
}

func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	if err != nil {
		return err
	}
	c.tgDisplaynameTemplate, err = template.New("tg_displayname").Parse(c.TGDisplaynameTemplate)
	if err != nil {
		return err
	}
	if c.RichHeaderURL != "" {
		c.richHeaderTemplate, err = template.New("rich_header_url").Parse(c.RichHeaderURL)
		if err != nil {
			return err
		}
	}
	if c.ForwardViewerURL != "" {
		c.forwardViewerTemplate, err = template.New("forward_viewer_url").Parse(c.ForwardViewerURL)
		if err != nil {
			return err
		}
	}
	if c.RecallInterval <= 0 {
		c.RecallInterval = time.Second
	}
	if c.RecallRetryAttempts <= 0 {
		c.RecallRetryAttempts = 3
	}
	if c.RecallRetryDelay <= 0 {
		c.RecallRetryDelay = time.Second
	}
	if c.NoticeTTL <= 0 {
		c.NoticeTTL = 10 * time.Second
	}
	if c.AttributionRefresh == "" {
		c.AttributionRefresh = "@every 10m"
	}
	if c.RecoverMaxCount <= 0 {
		c.RecoverMaxCount = 100
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 10
	}
	return nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "telegram", "bot_token")
	helper.Copy(up.Str|up.Null, "telegram", "api_url")
	helper.Copy(up.List, "instances")
	helper.Copy(up.Str, "database", "path")
	helper.Copy(up.Str, "media", "cache_dir")
	helper.Copy(up.Int, "media", "max_size")
	helper.Copy(up.Str, "media", "timeout")
	helper.Copy(up.Str, "displayname_template")
	helper.Copy(up.Str, "tg_displayname_template")
	helper.Copy(up.Str|up.Null, "rich_header_url")
	helper.Copy(up.Str|up.Null, "forward_viewer_url")
	helper.Copy(up.Str, "recall_interval")
	helper.Copy(up.Int, "recall_retry_attempts")
	helper.Copy(up.Str, "recall_retry_delay")
	helper.Copy(up.Str, "notice_ttl")
	helper.Copy(up.Str, "attribution_refresh")
	helper.Copy(up.Int, "recover_max_count")
	helper.Copy(up.Int, "search_limit")
	helper.Copy(up.Map, "logging")
}

// Upgrader returns the config upgrader that merges a user config onto the
// embedded example config.
func Upgrader() *up.StructUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"database"},
			{"media"},
			{"displayname_template"},
			{"recall_interval"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

// LoadConfig reads the config file at path, upgrading it in place when save
// is set, and applies environment overrides.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err = cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("failed to post-process config: %w", err)
	}
	return &cfg, nil
}

// FormatDisplayname renders the name of a QQ sender.
func (c *Config) FormatDisplayname(params QQDisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Name
	}
	var buf []byte
	err := c.displaynameTemplate.Execute((*templateBuffer)(&buf), params)
	if err != nil || len(buf) == 0 {
		return params.Name
	}
	return string(buf)
}

// FormatTGDisplayname renders the name of a Telegram sender.
func (c *Config) FormatTGDisplayname(params DisplaynameParams) string {
	fallback := params.Username
	if fallback == "" {
		fallback = params.FirstName
	}
	if c.tgDisplaynameTemplate == nil {
		return fallback
	}
	var buf []byte
	err := c.tgDisplaynameTemplate.Execute((*templateBuffer)(&buf), params)
	if err != nil || len(buf) == 0 {
		return fallback
	}
	return string(buf)
}

// FormatRichHeaderURL renders RichHeaderURL, returning "" when unset.
func (c *Config) FormatRichHeaderURL(params RichHeaderParams) string {
	return executeOptional(c.richHeaderTemplate, params)
}

// FormatForwardViewerURL renders ForwardViewerURL for a forward bundle.
func (c *Config) FormatForwardViewerURL(resID string) string {
	return executeOptional(c.forwardViewerTemplate, struct{ ResID string }{resID})
}

func executeOptional(tmpl *template.Template, params any) string {
	if tmpl == nil {
		return ""
	}
	var buf []byte
	if err := tmpl.Execute((*templateBuffer)(&buf), params); err != nil {
		return ""
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
