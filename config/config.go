package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/yaoapp/kun/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is read from GODEYE_* environment variables.
type Config struct {
	Mode          string `json:"mode,omitempty" env:"GODEYE_ENV" envDefault:"production"`
	Socket        string `json:"socket,omitempty" env:"GODEYE_SOCKET" envDefault:"/run/godeye/godeye.sock"`
	Admin         string `json:"admin,omitempty" env:"GODEYE_ADMIN" envDefault:"/run/godeye/admin.sock"`
	Compositor    string `json:"compositor,omitempty" env:"GODEYE_COMPOSITOR"`
	Modes         string `json:"modes,omitempty" env:"GODEYE_MODES"`
	RandR         bool   `json:"randr,omitempty" env:"GODEYE_RANDR" envDefault:"false"`
	Display       string `json:"display,omitempty" env:"DISPLAY"`
	Log           string `json:"log,omitempty" env:"GODEYE_LOG"`
	LogMode       string `json:"log_mode,omitempty" env:"GODEYE_LOG_MODE" envDefault:"TEXT"`
	LogLevel      string `json:"log_level,omitempty" env:"GODEYE_LOG_LEVEL"`
	LogMaxSize    int    `json:"log_max_size,omitempty" env:"GODEYE_LOG_MAX_SIZE" envDefault:"100"`
	LogMaxBackups int    `json:"log_max_backups,omitempty" env:"GODEYE_LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAge     int    `json:"log_max_age,omitempty" env:"GODEYE_LOG_MAX_AGE" envDefault:"28"`
}

// Conf is the loaded configuration.
var Conf Config

// LogOutput is the rotating log file, nil when logging to stdout.
var LogOutput io.WriteCloser

// ErrInvalidMode is returned for a GODEYE_ENV other than production or
// development.
var ErrInvalidMode = errors.New("config: GODEYE_ENV must be production or development")

func init() {
	Conf = Config{Mode: "production"}
}

// Load reads envFile (if not empty) into the environment, then parses the
// environment into Conf. Variables already set win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Mode = strings.ToLower(cfg.Mode)
	if cfg.Mode == "" {
		cfg.Mode = "production"
	}
	if cfg.Mode != "production" && cfg.Mode != "development" {
		return Config{}, ErrInvalidMode
	}
	if cfg.Socket == "" {
		return Config{}, fmt.Errorf("config: GODEYE_SOCKET is empty")
	}

	Conf = cfg
	return cfg, nil
}

// IsDevelopment reports whether GODEYE_ENV is development.
func IsDevelopment() bool {
	return Conf.Mode == "development"
}

// Level returns the configured log level, defaulting by mode.
func (cfg Config) Level() log.Level {
	switch strings.ToLower(cfg.LogLevel) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	if cfg.Mode == "development" {
		return log.TraceLevel
	}
	return log.InfoLevel
}

// OpenLog points kun/log and gin at the configured output.
func OpenLog(cfg Config) error {
	CloseLog()

	var output io.Writer = os.Stdout
	if cfg.Log != "" {
		logfile, err := filepath.Abs(cfg.Log)
		if err != nil {
			return fmt.Errorf("config: log path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(logfile), 0o755); err != nil {
			return fmt.Errorf("config: log dir: %w", err)
		}
		LogOutput = &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			LocalTime:  true,
		}
		output = LogOutput
	}

	log.SetOutput(output)
	gin.DefaultWriter = output
	gin.DefaultErrorWriter = output

	log.SetLevel(cfg.Level())
	if strings.ToUpper(cfg.LogMode) == "JSON" {
		log.SetFormatter(log.JSON)
	} else {
		log.SetFormatter(log.TEXT)
	}

	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	return nil
}

// CloseLog closes the log file, if any.
func CloseLog() {
	if LogOutput != nil {
		if err := LogOutput.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "config: close log: %v\n", err)
		}
		LogOutput = nil
	}
}
