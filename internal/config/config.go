package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	App        App        `envPrefix:"APP_"`
	Log        Log        `envPrefix:"LOG_"`
	Scan       Scan       `envPrefix:"SCAN_"`
	Retry      Retry      `envPrefix:"RETRY_"`
	Delivery   Delivery   `envPrefix:"DELIVERY_"`
	Store      Store      `envPrefix:"STORE_"`
	Redis      Redis      `envPrefix:"REDIS_"`
	Events     Events     `envPrefix:"EVENTS_"`
	Kafka      Kafka      `envPrefix:"KAFKA_"`
	Generation Generation `envPrefix:"GENERATION_"`
	Channel    Channel    `envPrefix:"CHANNEL_"`
	SES        SES        `envPrefix:"SES_"`
	SMTP       SMTP       `envPrefix:"SMTP_"`
	Telegram   Telegram   `envPrefix:"TELEGRAM_"`
	API        API        `envPrefix:"API_"`

	DuplicateTolerance   time.Duration `env:"DUPLICATE_TOLERANCE" envDefault:"60s"`
	HealthErrorThreshold float64       `env:"HEALTH_ERROR_THRESHOLD" envDefault:"0.5"`
}

type App struct {
	Name       string `env:"NAME" envDefault:"Todo Reminder Agent"`
	SenderName string `env:"SENDER_NAME" envDefault:"Todo Reminder Bot"`
	URL        string `env:"URL"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

type Scan struct {
	Interval      time.Duration `env:"INTERVAL" envDefault:"5m"`
	Lookahead     time.Duration `env:"LOOKAHEAD"`
	GracePeriod   time.Duration `env:"GRACE_PERIOD" envDefault:"168h"`
	BatchLimit    int           `env:"BATCH_LIMIT" envDefault:"1000"`
	Workers       int           `env:"WORKERS" envDefault:"1"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s"`
	UTCOffset     time.Duration `env:"UTC_OFFSET" envDefault:"0s"`
}

type Retry struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	Base        time.Duration `env:"BASE" envDefault:"1s"`
	Multiplier  float64       `env:"MULTIPLIER" envDefault:"2"`
	MaxDelay    time.Duration `env:"MAX_DELAY" envDefault:"60s"`
	Jitter      float64       `env:"JITTER" envDefault:"0"`
}

type Delivery struct {
	RatePerMinute int           `env:"RATE_PER_MINUTE" envDefault:"100"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type Store struct {
	Path        string        `env:"PATH" envDefault:"./data/reminders.db"`
	BusyTimeout time.Duration `env:"BUSY_TIMEOUT" envDefault:"5s"`
	// Records selects the backend for delivery records and run health.
	Records string `env:"RECORDS" envDefault:"sqlite"`
}

type Redis struct {
	Addr      string `env:"ADDRESS" envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"reminder"`
	StreamKey string `env:"STREAM_KEY" envDefault:"reminder.deliveries"`
	StreamMax int64  `env:"STREAM_MAXLEN" envDefault:"10000"`
}

type Events struct {
	Driver string `env:"DRIVER" envDefault:"none"`
}

type Kafka struct {
	Brokers []string `env:"BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"reminder-deliveries"`
}

type Generation struct {
	Enabled     bool          `env:"ENABLED" envDefault:"true"`
	BaseURL     string        `env:"BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai/"`
	APIKey      string        `env:"API_KEY"`
	Model       string        `env:"MODEL" envDefault:"gemini-1.5-flash"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"10s"`
	MaxTokens   int           `env:"MAX_TOKENS" envDefault:"200"`
	Temperature float64       `env:"TEMPERATURE" envDefault:"0.7"`
}

type Channel struct {
	Driver string `env:"DRIVER" envDefault:"log"`
}

type SES struct {
	Region    string `env:"REGION"`
	FromEmail string `env:"FROM_EMAIL"`
}

type SMTP struct {
	Host        string `env:"HOST"`
	Port        int    `env:"PORT" envDefault:"587"`
	User        string `env:"USER"`
	Password    string `env:"PASSWORD"`
	SenderEmail string `env:"SENDER_EMAIL"`
}

type Telegram struct {
	Token string `env:"TOKEN"`
}

type API struct {
	Port int `env:"PORT" envDefault:"8080"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LookaheadOrInterval returns the configured lookahead or the scan interval.
func (c Scan) LookaheadOrInterval() time.Duration {
	if c.Lookahead > 0 {
		return c.Lookahead
	}
	return c.Interval
}

func (c *Config) Validate() error {
	var errs []error
	if c.Scan.Interval <= 0 {
		errs = append(errs, errors.New("SCAN_INTERVAL must be > 0"))
	}
	if c.Scan.Lookahead < 0 {
		errs = append(errs, errors.New("SCAN_LOOKAHEAD must be >= 0"))
	}
	if c.Scan.GracePeriod <= 0 {
		errs = append(errs, errors.New("SCAN_GRACE_PERIOD must be > 0"))
	}
	if c.Scan.BatchLimit <= 0 {
		errs = append(errs, errors.New("SCAN_BATCH_LIMIT must be > 0"))
	}
	if c.Scan.Workers <= 0 {
		errs = append(errs, errors.New("SCAN_WORKERS must be > 0"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be >= 1"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("RETRY_MULTIPLIER must be >= 1"))
	}
	if c.Retry.Base <= 0 || c.Retry.MaxDelay < c.Retry.Base {
		errs = append(errs, errors.New("RETRY_BASE must be > 0 and <= RETRY_MAX_DELAY"))
	}
	if c.DuplicateTolerance < 0 {
		errs = append(errs, errors.New("DUPLICATE_TOLERANCE must be >= 0"))
	}
	if c.HealthErrorThreshold <= 0 || c.HealthErrorThreshold > 1 {
		errs = append(errs, errors.New("HEALTH_ERROR_THRESHOLD must be in (0, 1]"))
	}
	if !oneOf(c.Store.Records, "sqlite", "redis") {
		errs = append(errs, fmt.Errorf("unknown STORE_RECORDS %q", c.Store.Records))
	}
	if !oneOf(c.Events.Driver, "none", "redis", "kafka") {
		errs = append(errs, fmt.Errorf("unknown EVENTS_DRIVER %q", c.Events.Driver))
	}
	if !oneOf(c.Channel.Driver, "log", "ses", "smtp", "telegram") {
		errs = append(errs, fmt.Errorf("unknown CHANNEL_DRIVER %q", c.Channel.Driver))
	}
	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
