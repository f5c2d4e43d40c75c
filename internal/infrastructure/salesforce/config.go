package salesforce

import (
	"errors"
	"strings"
	"time"
)

const (
	// DefaultAPIVersion is the REST API version used when none is configured
	DefaultAPIVersion = "v60.0"
	// DefaultSObject is the object orders are written to
	DefaultSObject = "Order"
	// DefaultExternalIDField is the external id field orders are addressed by
	DefaultExternalIDField = "CA_NPedidoSAP__c"
)

// Errors for Salesforce configuration
var (
	ErrConfigMissingInstanceURL = errors.New("salesforce: instance url is required")
	ErrConfigInvalidTimeout     = errors.New("salesforce: timeout cannot be negative")
)

// Config holds the REST endpoint settings for the order object
type Config struct {
	// InstanceURL is the org base URL, e.g. https://acme.my.salesforce.com
	InstanceURL string
	// APIVersion is the REST API version segment, e.g. v60.0
	APIVersion string
	// SObject is the object name
	SObject string
	// ExternalIDField is the field used to address records
	ExternalIDField string
	// Timeout is the HTTP client timeout; 0 means no timeout
	Timeout time.Duration
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	if strings.TrimSpace(c.InstanceURL) == "" {
		return ErrConfigMissingInstanceURL
	}
	if c.Timeout < 0 {
		return ErrConfigInvalidTimeout
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.SObject == "" {
		c.SObject = DefaultSObject
	}
	if c.ExternalIDField == "" {
		c.ExternalIDField = DefaultExternalIDField
	}
	return nil
}

// ResourceURL returns <instance>/services/data/<version>/sobjects/<object>/<field>
func (c *Config) ResourceURL() string {
	return strings.TrimRight(c.InstanceURL, "/") +
		"/services/data/" + c.APIVersion +
		"/sobjects/" + c.SObject +
		"/" + c.ExternalIDField
}
