package httpapi

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type RuntimeMode string

const (
	RuntimeModeDevelopment RuntimeMode = "development"
	RuntimeModeProduction  RuntimeMode = "production"
)

func (m RuntimeMode) IsDevelopment() bool {
	return m == RuntimeModeDevelopment
}

func (m RuntimeMode) IsProduction() bool {
	return m == RuntimeModeProduction
}

// RuntimeConfig is loaded from the environment at startup.
type RuntimeConfig struct {
	DevMode            bool     `env:"SPRINTSCOPE_DEV_MODE" envDefault:"false"`
	ListenAddr         string   `env:"SPRINTSCOPE_LISTEN_ADDR"`
	CredentialFile     string   `env:"SPRINTSCOPE_CREDENTIAL_FILE" envDefault:"./sprintscope_credentials.json"`
	SelectionDB        string   `env:"SPRINTSCOPE_SELECTION_DB" envDefault:"./sprintscope_selections.db"`
	BoardWhitelistFile string   `env:"SPRINTSCOPE_BOARD_WHITELIST"`
	CORSAllowedOrigins []string `env:"SPRINTSCOPE_CORS_ALLOWED_ORIGINS"`
	RefreshSchedule    string   `env:"SPRINTSCOPE_REFRESH_SCHEDULE"`
	LogLevel           string   `env:"SPRINTSCOPE_LOG_LEVEL" envDefault:"info"`

	Mode               RuntimeMode `env:"-"`
	AllowAnyCORSOrigin bool        `env:"-"`
}

func LoadRuntimeConfigFromEnv() (RuntimeConfig, error) {
	var config RuntimeConfig
	if err := env.Parse(&config); err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse env: %w", err)
	}

	config.Mode = RuntimeModeProduction
	if config.DevMode {
		config.Mode = RuntimeModeDevelopment
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr(config.Mode)
	}

	if config.Mode.IsProduction() {
		for _, origin := range config.CORSAllowedOrigins {
			if origin == "*" {
				return RuntimeConfig{}, errors.New("SPRINTSCOPE_CORS_ALLOWED_ORIGINS cannot include wildcard origin in production mode")
			}
		}
		return config, nil
	}

	if len(config.CORSAllowedOrigins) == 0 {
		config.CORSAllowedOrigins = []string{"*"}
		config.AllowAnyCORSOrigin = true
		return config, nil
	}
	for _, origin := range config.CORSAllowedOrigins {
		if origin == "*" {
			config.CORSAllowedOrigins = []string{"*"}
			config.AllowAnyCORSOrigin = true
			break
		}
	}
	return config, nil
}

func DefaultListenAddr(mode RuntimeMode) string {
	if mode.IsDevelopment() {
		return "127.0.0.1:8070"
	}
	return ":8070"
}

// BoardWhitelist restricts the API to a named set of boards. An empty
// whitelist allows every board.
type BoardWhitelist struct {
	boards map[int]struct{}
}

type whitelistFile struct {
	Boards []int `yaml:"boards"`
}

func LoadBoardWhitelist(path string) (*BoardWhitelist, error) {
	if strings.TrimSpace(path) == "" {
		return &BoardWhitelist{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read board whitelist: %w", err)
	}

	var parsed whitelistFile
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("decode board whitelist: %w", err)
	}

	whitelist := &BoardWhitelist{boards: make(map[int]struct{}, len(parsed.Boards))}
	for _, boardID := range parsed.Boards {
		whitelist.boards[boardID] = struct{}{}
	}
	return whitelist, nil
}

func (w *BoardWhitelist) Allows(boardID int) bool {
	if w == nil || len(w.boards) == 0 {
		return true
	}
	_, allowed := w.boards[boardID]
	return allowed
}
