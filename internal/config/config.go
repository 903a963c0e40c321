package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

type Config struct {
	Env       string
	HTTPAddr  string
	CORSAllow []string

	JWTSecret string

	PGURL         string // empty selects the in-memory friend directory
	DBAutoMigrate bool
	StaticFriends string // "alice=bob,carol;bob=alice", used without PG_URL

	InstanceID string // relay origin tag; generated when empty

	RedisAddr      string // empty disables the relay and the shared presence store
	RedisDB        int
	RedisChannel   string
	RedisKeyPrefix string

	Rooms RoomConfig

	SubscriberBuffer int
	PollInterval     time.Duration
}

type RoomConfig struct {
	CodeLength    int
	CodeAttempts  int
	IdleTimeout   time.Duration
	CloseGrace    time.Duration
	SweepInterval time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "dev")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("cors_allow", "http://localhost:3000")
	v.SetDefault("jwt_secret", "dev-secret-change")
	v.SetDefault("pg_url", "")
	v.SetDefault("db_auto_migrate", false)
	v.SetDefault("static_friends", "")
	v.SetDefault("instance_id", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_channel", "skygames:presence")
	v.SetDefault("redis_key_prefix", "skygames:")
	v.SetDefault("room_code_length", 6)
	v.SetDefault("room_code_attempts", 5)
	v.SetDefault("room_idle_timeout", 2*time.Minute)
	v.SetDefault("room_close_grace", time.Minute)
	v.SetDefault("room_sweep_interval", 15*time.Second)
	v.SetDefault("subscriber_buffer", 32)
	v.SetDefault("poll_interval", 8*time.Second)
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	// Load local .env (dev only)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := Config{
		Env:            v.GetString("app_env"),
		HTTPAddr:       v.GetString("http_addr"),
		CORSAllow:      splitCSV(v.GetString("cors_allow")),
		JWTSecret:      v.GetString("jwt_secret"),
		PGURL:          v.GetString("pg_url"),
		DBAutoMigrate:  v.GetBool("db_auto_migrate"),
		StaticFriends:  v.GetString("static_friends"),
		InstanceID:     v.GetString("instance_id"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisDB:        v.GetInt("redis_db"),
		RedisChannel:   v.GetString("redis_channel"),
		RedisKeyPrefix: v.GetString("redis_key_prefix"),
		Rooms: RoomConfig{
			CodeLength:    v.GetInt("room_code_length"),
			CodeAttempts:  v.GetInt("room_code_attempts"),
			IdleTimeout:   v.GetDuration("room_idle_timeout"),
			CloseGrace:    v.GetDuration("room_close_grace"),
			SweepInterval: v.GetDuration("room_sweep_interval"),
		},
		SubscriberBuffer: v.GetInt("subscriber_buffer"),
		PollInterval:     v.GetDuration("poll_interval"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var err error
	if c.HTTPAddr == "" {
		err = multierr.Append(err, errors.New("HTTP_ADDR is empty"))
	}
	if c.JWTSecret == "" {
		err = multierr.Append(err, errors.New("JWT_SECRET is empty"))
	}
	if c.Rooms.CodeLength < 4 {
		err = multierr.Append(err, fmt.Errorf("ROOM_CODE_LENGTH must be >= 4, got %d", c.Rooms.CodeLength))
	}
	if c.Rooms.CodeAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("ROOM_CODE_ATTEMPTS must be >= 1, got %d", c.Rooms.CodeAttempts))
	}
	for name, d := range map[string]time.Duration{
		"ROOM_IDLE_TIMEOUT":   c.Rooms.IdleTimeout,
		"ROOM_CLOSE_GRACE":    c.Rooms.CloseGrace,
		"ROOM_SWEEP_INTERVAL": c.Rooms.SweepInterval,
		"POLL_INTERVAL":       c.PollInterval,
	} {
		if d <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.SubscriberBuffer < 1 {
		err = multierr.Append(err, fmt.Errorf("SUBSCRIBER_BUFFER must be >= 1, got %d", c.SubscriberBuffer))
	}
	return err
}

func (c Config) IsProd() bool { return c.Env == "prod" }

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
