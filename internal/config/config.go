package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string      `mapstructure:"mode"`
	Port       int         `mapstructure:"port"`
	StaticPath string      `mapstructure:"static_path"`
	Secret     string      `mapstructure:"secret"`
	LogLevel   string      `mapstructure:"log_level"`
	PublicURL  string      `mapstructure:"public_url"`
	Relay      RelayConfig `mapstructure:"relay"`
}

// RelayConfig holds the timing and size limits of the room relay.
type RelayConfig struct {
	BatchWindow      time.Duration `mapstructure:"batch_window"`
	ViewerSkipBytes  int64         `mapstructure:"viewer_skip_bytes"`
	MaxMessageBytes  int64         `mapstructure:"max_message_bytes"`
	MaxTransferBytes int           `mapstructure:"max_transfer_bytes"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
	SendQueue        int           `mapstructure:"send_queue"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	JoinLimit        int           `mapstructure:"join_limit"`
	JoinWindow       time.Duration `mapstructure:"join_window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 9000)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("public_url", "http://localhost:9000")
	v.SetDefault("relay.batch_window", "16ms")
	v.SetDefault("relay.viewer_skip_bytes", 2<<20)
	v.SetDefault("relay.max_message_bytes", 50<<20)
	v.SetDefault("relay.max_transfer_bytes", 512<<20)
	v.SetDefault("relay.liveness_interval", "120s")
	v.SetDefault("relay.send_queue", 256)
	v.SetDefault("relay.write_wait", "10s")
	v.SetDefault("relay.join_limit", 30)
	v.SetDefault("relay.join_window", "1m")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then RELAY_* environment
// variables (a .env file is honoured) on top of the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		fmt.Println("✅ Loaded .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Batch: %s | Liveness: %s\n", cfg.Mode, cfg.Port, cfg.Relay.BatchWindow, cfg.Relay.LivenessInterval)
	return &cfg, nil
}
