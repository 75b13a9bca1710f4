package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"obuoy/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the zap logger for cfg. Development gets colored console
// output; other environments log JSON unless log.format says otherwise.
func InitLogger(cfg *config.Config) (*zap.Logger, *zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cfg.Log.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
		}
	}

	format := strings.ToLower(cfg.Log.Format)
	if format == "" {
		format = "json"
		if cfg.IsDevelopment() {
			format = "console"
		}
	}

	var encoder zapcore.Encoder
	switch format {
	case "console":
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (want console or json)", cfg.Log.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("environment", cfg.Environment.String()))
	return logger, logger.Sugar(), nil
}

// InitConfig resolves the environment once, from opts.LookupEnv or else the
// config file, loads .env files for it and then loads the configuration with
// that environment.
func InitConfig(opts Options) (*config.Config, error) {
	env, found, err := config.LookupEnvironment(opts.LookupEnv)
	if err != nil {
		return nil, err
	}
	if !found {
		if env, err = config.EnvironmentFromFile(opts.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := config.LoadDotEnv(env, opts.DotEnvFiles...); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(opts.ConfigFile, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// logStartup records the settings that shape the startup sequence
func logStartup(cfg *config.Config, sugar *zap.SugaredLogger) {
	startupMode := cfg.StartupMode
	if startupMode == "" {
		startupMode = config.StartupModeStrict
	}
	sugar.Infow("Startup mode",
		"mode", string(startupMode),
		"variant", string(cfg.Startup.Variant),
		"description", func() string {
			if startupMode == config.StartupModeGraceful {
				return "will continue with degraded functionality when a store is unreachable"
			}
			return "will fail fast on any initialization error"
		}())

	sugar.Infow("Config loaded",
		"port", cfg.Server.Port,
		"https_port", cfg.Server.HTTPSPort,
		"tls", cfg.TLSEnabled(),
		"redis_enabled", cfg.Cache.Redis.Enabled,
		"ndbc_enabled", cfg.NDBC.Enabled)
}
