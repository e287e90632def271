package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/deskmate/internal/policy"
	"github.com/linnemanlabs/deskmate/internal/retry"
)

// Config adds deskmate-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string

	ProviderMode  string
	ClaudeAPIKey  string
	ClaudeModel   string
	ClaudeBaseURL string
	LLMTimeout    time.Duration

	LLMMaxRetries   int
	LLMInitialDelay time.Duration
	LLMMaxDelay     time.Duration
	LLMBackoff      string
	LLMRetryBudget  time.Duration

	RunTimeout time.Duration

	AutoCloseEnabled    bool
	ConfidenceThreshold float64
	PolicyFile          string
	PolicyTTL           time.Duration
	KBSeedFile          string

	SlackWebhookURL string
	KafkaBrokers    string
	KafkaTopic      string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")

	fs.StringVar(&c.ProviderMode, "provider", "stub", "triage provider: stub or anthropic")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude provider (required with -provider=anthropic)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model to use")
	fs.StringVar(&c.ClaudeBaseURL, "claude-base-url", "", "override the Claude API base URL")
	fs.DurationVar(&c.LLMTimeout, "llm-timeout", 20*time.Second, "timeout for a single LLM call")

	fs.IntVar(&c.LLMMaxRetries, "llm-max-retries", 3, "retries after the first failed LLM call (0..10)")
	fs.DurationVar(&c.LLMInitialDelay, "llm-initial-delay", time.Second, "delay before the first LLM retry")
	fs.DurationVar(&c.LLMMaxDelay, "llm-max-delay", 5*time.Second, "ceiling for the delay between LLM retries")
	fs.StringVar(&c.LLMBackoff, "llm-backoff", string(retry.Linear), "LLM retry delay growth: linear or exponential")
	fs.DurationVar(&c.LLMRetryBudget, "llm-retry-budget", 60*time.Second, "total time allowed for one LLM call including retries")

	fs.DurationVar(&c.RunTimeout, "run-timeout", 2*time.Minute, "upper bound on one triage run")

	fs.BoolVar(&c.AutoCloseEnabled, "auto-close", false, "resolve tickets automatically when confidence meets the threshold")
	fs.Float64Var(&c.ConfidenceThreshold, "confidence-threshold", 0.8, "minimum classification confidence for auto-close (0..1)")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "YAML policy file; overrides -auto-close and -confidence-threshold when set")
	fs.DurationVar(&c.PolicyTTL, "policy-ttl", 30*time.Second, "how long a policy file read is reused")
	fs.StringVar(&c.KBSeedFile, "kb-seed-file", "", "YAML knowledge base articles loaded into the in-memory index")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for notifications")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "deskmate.notifications", "Kafka topic for notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	switch c.ProviderMode {
	case "stub":
	case "anthropic":
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for the anthropic provider"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid PROVIDER %q (must be stub or anthropic)", c.ProviderMode))
	}

	if c.LLMTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT %s (must be > 0)", c.LLMTimeout))
	}
	if c.LLMMaxRetries < 0 || c.LLMMaxRetries > 10 {
		errs = append(errs, fmt.Errorf("invalid LLM_MAX_RETRIES %d (must be 0..10)", c.LLMMaxRetries))
	}
	if c.LLMRetryBudget <= 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_RETRY_BUDGET %s (must be > 0)", c.LLMRetryBudget))
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid LLM retry settings: %w", err))
	}

	if c.RunTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid RUN_TIMEOUT %s (must be > 0)", c.RunTimeout))
	}

	// the file, when set, is validated on every read instead
	if c.PolicyFile == "" {
		if err := c.Policy().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("invalid CONFIDENCE_THRESHOLD: %w", err))
		}
	}
	if c.PolicyTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid POLICY_TTL %s (must be >= 0)", c.PolicyTTL))
	}

	if len(c.Brokers()) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RetryPolicy is the retry policy for LLM calls.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.Policy{
		MaxRetries:   c.LLMMaxRetries,
		InitialDelay: c.LLMInitialDelay,
		MaxDelay:     c.LLMMaxDelay,
		Shape:        retry.Shape(c.LLMBackoff),
		Timeout:      c.LLMRetryBudget,
	}
	if p.Shape == retry.Exponential {
		p.Multiplier = 2
	}
	return p
}

// Policy is the static auto-close policy built from flags.
func (c *Config) Policy() policy.Policy {
	return policy.Policy{
		AutoCloseEnabled:    c.AutoCloseEnabled,
		ConfidenceThreshold: c.ConfidenceThreshold,
	}
}

// Brokers splits KafkaBrokers, dropping blanks.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
