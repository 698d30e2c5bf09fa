package mainzelhandler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/GyroTools/mainzelhandler-connector-go/internals/utils"
	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
	"github.com/rs/zerolog"
)

const DefaultAPIVersion = "3.0"

// Config configures a Handler.
type Config struct {
	// ServerURL is the url of the mainzelhandler backend including its
	// context path, e.g. https://example.org/app/mainzelhandler.
	ServerURL string
	// APIVersion of the Mainzelliste. It changes the response format of a
	// successful pseudonymization. Defaults to 3.0.
	APIVersion string
	// IDATFields is the field schema of the Mainzelliste. Defaults to
	// models.DefaultSchema().
	IDATFields models.Schema

	APIKey            string
	Username          string
	Password          string
	VerifyCertificate bool

	// Timeout per request. Zero means no timeout, cancellation is left to
	// the context passed to each call.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.IDATFields == nil {
		c.IDATFields = models.DefaultSchema()
	}
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return errors.New("no server url configured")
	}
	url, err := utils.ValidateURL(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server url \"%s\": %w", c.ServerURL, err)
	}
	c.ServerURL = url
	if err := c.IDATFields.Check(); err != nil {
		return err
	}
	if (c.Username == "") != (c.Password == "") {
		return errors.New("username and password must be set together")
	}
	return nil
}
