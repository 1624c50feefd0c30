package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
)

type QueuesConfig struct {
	RecoveryInterval string `json:"recovery_interval"`
	StaleAge         string `json:"stale_age"`
	PendingExpiry    string `json:"pending_expiry"`
	RetainAge        string `json:"retain_age"`
}

func (c *QueuesConfig) validate() error {
	el := errors.NewErrorList()

	for name, v := range map[string]string{
		"recovery_interval": c.RecoveryInterval,
		"stale_age":         c.StaleAge,
		"pending_expiry":    c.PendingExpiry,
		"retain_age":        c.RetainAge,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			el.Add(fmt.Errorf("parsing %s: %w", name, err))
		}
	}

	return el.Err()
}

func (c *QueuesConfig) recoveryInterval() time.Duration {
	return durationOr(c.RecoveryInterval, 5*time.Second)
}

func (c *QueuesConfig) staleAge() time.Duration {
	return durationOr(c.StaleAge, 2*time.Minute)
}

func (c *QueuesConfig) pendingExpiry() time.Duration {
	return durationOr(c.PendingExpiry, 10*time.Minute)
}

func (c *QueuesConfig) retainAge() time.Duration {
	return durationOr(c.RetainAge, 24*time.Hour)
}

func durationOr(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
