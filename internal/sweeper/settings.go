package sweeper

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Settings are the hot-reloadable knobs of the sweeper.
type Settings struct {
	Enabled        bool
	SweepPeriod    time.Duration `validate:"gt=0"`
	PageSize       int           `validate:"min=1,max=10000"`
	BackoffBase    time.Duration `validate:"gt=0"`
	BackoffRetries int           `validate:"min=0,max=10"`
	RequestTimeout time.Duration `validate:"gt=0"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:        true,
		SweepPeriod:    5 * time.Minute,
		PageSize:       100,
		BackoffBase:    50 * time.Millisecond,
		BackoffRetries: 3,
		RequestTimeout: 10 * time.Second,
	}
}

var validate = validator.New()

func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid sweeper settings: %w", err)
	}
	return nil
}
