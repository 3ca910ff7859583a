package application

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lk2023060901/session-garden-go/internal/session"
	hlog "github.com/lk2023060901/session-garden-go/pkg/log"
	"github.com/lk2023060901/session-garden-go/pkg/metrics"
	hviper "github.com/lk2023060901/session-garden-go/pkg/util/viper"
)

// Application is the main runtime container for a Hera client process.
// It owns configuration, logging and the session manager.
type Application struct {
	cfg     *hviper.Config
	loggers map[string]*hlog.MLogger
	manager *session.Manager
}

// New creates a new Application instance.
func New() *Application {
	return &Application{}
}

// Run is the entry of a Hera application.
// It parses command-line arguments (os.Args) and loads configuration file
// using the following priority:
//  1. Default: ./config.yaml
//  2. Env: HERA_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
func (a *Application) Run() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}

	metrics.Register(prometheus.DefaultRegisterer)

	return a.initSession()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *hviper.Config {
	return a.cfg
}

// SessionManager returns the session manager built from configuration.
func (a *Application) SessionManager() *session.Manager {
	return a.manager
}

// Close releases resources owned by the application.
func (a *Application) Close() {
	if a.manager != nil {
		a.manager.Close()
		a.manager = nil
	}
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *hlog.MLogger {
	if a.loggers == nil {
		return &hlog.MLogger{Logger: hlog.L()}
	}
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &hlog.MLogger{Logger: hlog.L()}
}

// loadConfig resolves config file path and loads it via viper wrapper.
func (a *Application) loadConfig() (*hviper.Config, error) {
	configPath := "./config.yaml"

	if envPath := os.Getenv("HERA_CONFIG_FILE_PATH"); envPath != "" {
		configPath = envPath
	}

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value after --config")
			}
			configPath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			val := strings.TrimPrefix(arg, "--config=")
			if val != "" {
				configPath = val
			}
			continue
		}
	}

	cfg := hviper.New()
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", configPath, err)
	}
	cfg.BindEnv("HERA")

	return cfg, nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv configures the process-wide logger based on HERA_LOG_* env vars.
//
// Priority:
//   - HERA_LOG_ENABLE: "1"/"true" to enable outputs; others treated as disabled.
//   - HERA_LOG_LEVEL: log level (default "info").
//   - HERA_LOG_STDOUT: whether to log to stdout (default false).
//   - HERA_LOG_FILE_DIR: log directory.
//   - HERA_LOG_FILE: log file name (empty means no file).
//   - HERA_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("HERA_LOG_ENABLE", false)

	cfg := &hlog.Config{
		Level:             getenvDefault("HERA_LOG_LEVEL", "info"),
		Format:            getenvDefault("HERA_LOG_FORMAT", "text"),
		DisableTimestamp:  false,
		Stdout:            getenvBool("HERA_LOG_STDOUT", false),
		DisableCaller:     false,
		DisableStacktrace: false,
		File: hlog.FileLogConfig{
			RootPath: getenvDefault("HERA_LOG_FILE_DIR", ""),
			Filename: getenvDefault("HERA_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := hlog.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init global logger from env: %w", err)
	}
	hlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from YAML config under "logging" key.
//
// Example:
//
//	logging:
//	  session:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: session.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	raw := make(map[string]hlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*hlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := hlog.InitLogger(&cfgCopy)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &hlog.MLogger{Logger: logger}
	}

	return nil
}

// initSession builds the session manager from the "session" config key.
//
// Example:
//
//	session:
//	  endpoint: wss://example.com/session
//	  api-base-url: https://example.com
//	  state-dir: ./state
//	  ping-interval: 30s
func (a *Application) initSession() error {
	if a.cfg == nil {
		return nil
	}

	scfg := session.DefaultConfig()
	if err := a.cfg.UnmarshalKey("session", &scfg); err != nil {
		return fmt.Errorf("parse session config: %w", err)
	}
	if scfg.Endpoint == "" {
		// 未配置会话段时不启动管理器，进程可仅使用其它能力。
		return nil
	}

	m, err := session.Init(scfg)
	if err != nil {
		return fmt.Errorf("init session manager: %w", err)
	}
	a.manager = m
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
