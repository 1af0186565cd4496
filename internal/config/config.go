package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the realtime API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	ChannelBase            string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	RecallWindow           time.Duration
	DefaultRoomCapacity    int
	RoomActivationInterval time.Duration
	SendBufferSize         int
	PingInterval           time.Duration
	PongWait               time.Duration
	EventTimeout           time.Duration
	MessageRateLimit       int
	RateLimitWindow        time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ZXB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Zouxianba Realtime")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "zxb")
	v.SetDefault("cloudinary.folder", "zxb/media")
	v.SetDefault("chat.recall_window", "2m")
	v.SetDefault("room.default_capacity", 100)
	v.SetDefault("room.activation_interval", "30s")
	v.SetDefault("realtime.send_buffer", 32)
	v.SetDefault("realtime.ping_interval", "30s")
	v.SetDefault("realtime.pong_wait", "60s")
	v.SetDefault("realtime.event_timeout", "5s")
	v.SetDefault("ratelimit.messages", 20)
	v.SetDefault("ratelimit.window", "10s")

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"chat.recall_window",
		"room.activation_interval",
		"realtime.ping_interval",
		"realtime.pong_wait",
		"realtime.event_timeout",
		"ratelimit.window",
	} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		ChannelBase:            v.GetString("channel.base"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		RecallWindow:           durations["chat.recall_window"],
		DefaultRoomCapacity:    v.GetInt("room.default_capacity"),
		RoomActivationInterval: durations["room.activation_interval"],
		SendBufferSize:         v.GetInt("realtime.send_buffer"),
		PingInterval:           durations["realtime.ping_interval"],
		PongWait:               durations["realtime.pong_wait"],
		EventTimeout:           durations["realtime.event_timeout"],
		MessageRateLimit:       v.GetInt("ratelimit.messages"),
		RateLimitWindow:        durations["ratelimit.window"],
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.PongWait <= cfg.PingInterval {
		return Config{}, fmt.Errorf("realtime pong wait must exceed ping interval")
	}

	if cfg.DefaultRoomCapacity <= 0 {
		cfg.DefaultRoomCapacity = 100
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 32
	}

	return cfg, nil
}

// CloudinaryEnabled reports whether media credentials were supplied.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}
