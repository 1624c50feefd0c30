package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"

	"github.com/worldsmith/engine/internal/genai"
)

type ModelConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Timeout string `json:"timeout"`
}

func (c *ModelConfig) validate() error {
	el := errors.NewErrorList()

	if c.BaseURL == "" {
		el.Add(fmt.Errorf("base_url is required"))
	}
	if c.Model == "" {
		el.Add(fmt.Errorf("model is required"))
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			el.Add(fmt.Errorf("parsing timeout: %w", err))
		}
	}

	return el.Err()
}

func (c *ModelConfig) buildClient() (genai.Client, error) {
	var timeout time.Duration
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parsing timeout: %w", err)
		}
		timeout = d
	}

	return genai.NewClient(genai.ClientConfig{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Model:   c.Model,
		Timeout: timeout,
	}), nil
}

type RenderConfig struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout"`
}

func (c *RenderConfig) validate() error {
	el := errors.NewErrorList()

	if c.BaseURL == "" {
		el.Add(fmt.Errorf("base_url is required"))
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			el.Add(fmt.Errorf("parsing timeout: %w", err))
		}
	}

	return el.Err()
}

func (c *RenderConfig) buildImageClient() (genai.ImageClient, error) {
	var timeout time.Duration
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parsing timeout: %w", err)
		}
		timeout = d
	}

	return genai.NewImageClient(genai.ImageConfig{
		BaseURL: c.BaseURL,
		Timeout: timeout,
	}), nil
}
