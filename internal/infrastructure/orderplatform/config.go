package orderplatform

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shipsync/backend/internal/domain/shipping"
)

// DefaultTimeoutSeconds is the HTTP request timeout used when none is configured
const DefaultTimeoutSeconds = 30

var validate = validator.New()

// Config holds the order platform endpoint and credentials
type Config struct {
	BaseURL        string `validate:"required,url"`
	APIKey         string `validate:"required"`
	APISecret      string `validate:"required"`
	TimeoutSeconds int    `validate:"gte=0,lte=300"`
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", shipping.ErrOrderPlatformFailed, err)
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return nil
}
