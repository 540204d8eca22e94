package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Login      string        `yaml:"login"`       // Mail account identity used for SMTP AUTH and IMAP login.
	Password   string        `yaml:"password"`    // Mail account secret. Usually supplied via ${EMAIL_PASS}.
	SMTP       SMTPConfig    `yaml:"smtp"`        // Outbound submission transport.
	IMAP       IMAPConfig    `yaml:"imap"`        // Inbound mailbox transport.
	Timeout    time.Duration `yaml:"timeout"`     // Dial/handshake timeout for both transports.
	MaxRetries int           `yaml:"max_retries"` // Delivery attempt budget per message.
	RetryDelay time.Duration `yaml:"retry_delay"` // Fixed delay between delivery attempts.
	LogLevel   int           `yaml:"log_level"`   // Logging level (e.g., 0: debug, 1: info, etc.).
	OTP        OTPConfig     `yaml:"otp"`         // One-time passcode policy.
	Bulk       BulkConfig    `yaml:"bulk"`        // Bulk send rate shaping.
}

type SMTPConfig struct {
	Host     string `yaml:"host"`     // Submission server hostname.
	Port     int    `yaml:"port"`     // Submission server port, typically 587.
	StartTLS bool   `yaml:"starttls"` // Upgrade the session with STARTTLS after EHLO.
}

type IMAPConfig struct {
	Host string `yaml:"host"` // Mailbox server hostname.
	Port int    `yaml:"port"` // Mailbox server port, typically 993.
	TLS  bool   `yaml:"tls"`  // Use implicit TLS for the mailbox session.
}

type OTPConfig struct {
	CodeLength     int           `yaml:"code_length"`      // Number of digits in issued codes.
	TTL            time.Duration `yaml:"ttl"`              // Lifetime of an issued code.
	MinInterval    time.Duration `yaml:"min_interval"`     // Minimum spacing between issues per identity.
	HourlyLimit    int           `yaml:"hourly_limit"`     // Maximum issues per identity per rolling window.
	EvictOnSuccess bool          `yaml:"evict_on_success"` // Consume the code on successful verification.
}

type BulkConfig struct {
	DelayBetween time.Duration `yaml:"delay_between"` // Default delay between individual sends in a batch.
	BatchSize    int           `yaml:"batch_size"`    // Default number of messages per batch.
}

func LoadConfig(cfgFilepath, envFilepath string) (Config, error) {
	var cfg Config

	if _, err := os.Stat(envFilepath); err == nil {
		if err = godotenv.Load(envFilepath); err != nil {
			return cfg, fmt.Errorf("unable to load environment variables from file: %w", err)
		}
	}

	//nolint:gosec
	fileBytes, err := os.ReadFile(cfgFilepath)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("configuration file at this cfgFilepath doesn't exist: %w", err)
		case errors.Is(err, os.ErrPermission):
			return cfg, fmt.Errorf("permission denied for accessing configuration file: %w", err)
		default:
			return cfg, fmt.Errorf("unexpected error during reading configuration file: %w", err)
		}
	}

	envExpanded := os.ExpandEnv(string(fileBytes))
	if err = yaml.Unmarshal([]byte(envExpanded), &cfg); err != nil {
		return cfg, fmt.Errorf("unable to unmarshal configuration file: %w", err)
	}

	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate reports whether the configuration is complete enough
// to construct a gateway. Account credentials are mandatory.
func (c *Config) Validate() error {
	if c.Login == "" {
		return errors.New("account login must be set")
	}
	if c.Password == "" {
		return errors.New("account password must be set")
	}
	return nil
}

// ApplyDefaults fills unset fields with the stock Gmail-shaped defaults
// the service ran with historically.
func (c *Config) ApplyDefaults() {
	if c.SMTP.Host == "" {
		c.SMTP.Host = "smtp.gmail.com"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
		c.SMTP.StartTLS = true
	}
	if c.IMAP.Host == "" {
		c.IMAP.Host = "imap.gmail.com"
	}
	if c.IMAP.Port == 0 {
		c.IMAP.Port = 993
		c.IMAP.TLS = true
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.OTP.CodeLength == 0 {
		c.OTP.CodeLength = 6
	}
	if c.OTP.TTL == 0 {
		c.OTP.TTL = 5 * time.Minute
	}
	if c.OTP.MinInterval == 0 {
		c.OTP.MinInterval = time.Minute
	}
	if c.OTP.HourlyLimit == 0 {
		c.OTP.HourlyLimit = 5
	}
	if c.Bulk.DelayBetween == 0 {
		c.Bulk.DelayBetween = time.Second
	}
	if c.Bulk.BatchSize == 0 {
		c.Bulk.BatchSize = 50
	}
}
