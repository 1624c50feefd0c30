package command

import (
	"fmt"
	"os"

	"github.com/pixil98/go-errors"

	"github.com/worldsmith/engine/internal/game"
	"github.com/worldsmith/engine/internal/storage"
)

type DatabaseConfig struct {
	Path string `json:"path"`
}

func (c *DatabaseConfig) validate() error {
	el := errors.NewErrorList()

	if c.Path == "" {
		el.Add(fmt.Errorf("path is required"))
	}

	return el.Err()
}

type ContentConfig struct {
	Regions  ContentDirConfig[*game.Region]     `json:"regions"`
	Triggers ContentDirConfig[*game.TriggerSet] `json:"triggers"`
}

func (c *ContentConfig) validate() error {
	el := errors.NewErrorList()
	el.Add(c.Regions.Validate("regions"))
	el.Add(c.Triggers.Validate("triggers"))
	return el.Err()
}

type ContentDirConfig[T storage.ValidatingSpec] struct {
	Path string `json:"path"`
}

func (c *ContentDirConfig[T]) Validate(name string) error {
	if c.Path == "" {
		return fmt.Errorf("%s: path is required", name)
	}
	_, err := os.Stat(c.Path)
	if err != nil {
		return fmt.Errorf("%s: invalid path %q: %w", name, c.Path, err)
	}

	return nil
}

func (c *ContentDirConfig[T]) BuildFileStore() (*storage.FileStore[T], error) {
	return storage.NewFileStore[T](c.Path)
}
