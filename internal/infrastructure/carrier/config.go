package carrier

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shipsync/backend/internal/domain/shipping"
)

const (
	// DefaultTimeoutSeconds is the HTTP request timeout used when none is configured
	DefaultTimeoutSeconds = 30
	// DefaultPageSize is the number of shipments requested per order lookup
	DefaultPageSize = 100
)

var validate = validator.New()

// Config holds the carrier-management platform credentials and endpoint
type Config struct {
	// BaseURL is the API root, e.g. https://ssapi.example.com
	BaseURL string `validate:"required,url"`
	// APIKey and APISecret are sent as HTTP basic credentials
	APIKey    string `validate:"required"`
	APISecret string `validate:"required"`
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int `validate:"gte=0,lte=300"`
	// PageSize bounds how many shipments one order lookup returns
	PageSize int `validate:"gte=0,lte=500"`
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", shipping.ErrCarrierNotConfigured, err)
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	return nil
}
