package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
)

type Config struct {
	TickInterval string         `json:"tick_interval"`
	Database     DatabaseConfig `json:"database"`
	Content      ContentConfig  `json:"content"`
	Nats         NatsConfig     `json:"nats"`
	Model        ModelConfig    `json:"model"`
	Render       RenderConfig   `json:"render"`
	Queues       QueuesConfig   `json:"queues"`
	Approvals    ApprovalConfig `json:"approvals"`
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()

	if c.TickInterval != "" {
		d, err := time.ParseDuration(c.TickInterval)
		if err != nil {
			el.Add(fmt.Errorf("parsing tick_interval: %w", err))
		} else if d < time.Second {
			el.Add(fmt.Errorf("tick_interval must be at least 1 second"))
		}
	}

	el.Add(c.Database.validate())
	el.Add(c.Content.validate())
	el.Add(c.Nats.validate())
	el.Add(c.Model.validate())
	el.Add(c.Render.validate())
	el.Add(c.Queues.validate())
	el.Add(c.Approvals.validate())

	return el.Err()
}

func (c *Config) tickInterval() time.Duration {
	if c.TickInterval == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.TickInterval)
	return d
}

type ApprovalConfig struct {
	Timeout    string `json:"timeout"`
	MaxRetries int    `json:"max_retries"`
}

func (c *ApprovalConfig) validate() error {
	el := errors.NewErrorList()

	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			el.Add(fmt.Errorf("parsing timeout: %w", err))
		}
	}
	if c.MaxRetries < 0 {
		el.Add(fmt.Errorf("max_retries must not be negative"))
	}

	return el.Err()
}

func (c *ApprovalConfig) timeout() time.Duration {
	if c.Timeout == "" {
		return 2 * time.Minute
	}
	d, _ := time.ParseDuration(c.Timeout)
	return d
}
