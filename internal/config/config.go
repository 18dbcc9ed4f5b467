package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type GatewayConfig struct {
	Port        int    `mapstructure:"port"`
	UpstreamURL string `mapstructure:"upstream_url"`
	APIKeyEnv   string `mapstructure:"api_key_env"`
	Model       string `mapstructure:"model"`
	Voice       string `mapstructure:"voice"`
}

type NegotiationConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Shape    string        `mapstructure:"shape"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MediaConfig struct {
	STUNServers   []string `mapstructure:"stun_servers"`
	ChannelLabel  string   `mapstructure:"channel_label"`
	CaptureDevice string   `mapstructure:"capture_device"`
}

type TranscriptConfig struct {
	PartialPolicy       string   `mapstructure:"partial_policy"`
	TransitionalMarkers []string `mapstructure:"transitional_markers"`
}

type TranslateConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Mode        string            `mapstructure:"mode"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Media       MediaConfig       `mapstructure:"media"`
	Transcript  TranscriptConfig  `mapstructure:"transcript"`
	Translate   TranslateConfig   `mapstructure:"translate"`
}

func Load() (*Config, error) {
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

	v.SetDefault("mode", "release")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.upstream_url", "https://api.openai.com/v1/realtime")
	v.SetDefault("gateway.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("gateway.model", "gpt-4o-mini-realtime-preview")
	v.SetDefault("gateway.voice", "ash")
	v.SetDefault("negotiation.endpoint", "http://localhost:8080/api/rtc-connect")
	v.SetDefault("negotiation.shape", "sdp")
	v.SetDefault("negotiation.model", "gpt-4o-mini-realtime-preview")
	v.SetDefault("negotiation.timeout", "10s")
	v.SetDefault("media.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.channel_label", "events")
	v.SetDefault("media.capture_device", "default")
	v.SetDefault("transcript.partial_policy", "replace")
	v.SetDefault("transcript.transitional_markers", []string{"→", "翻译中"})
	v.SetDefault("translate.endpoint", "http://localhost:8080/api/translate")
	v.SetDefault("translate.timeout", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Gateway port: %d | Model: %s\n", cfg.Mode, cfg.Gateway.Port, cfg.Negotiation.Model)
	return &cfg, nil
}
