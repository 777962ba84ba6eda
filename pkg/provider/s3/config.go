// Package s3 implements the provider.Store interface for AWS S3 and
// S3-compatible object stores (MinIO, Wasabi, Alibaba OSS-compatible
// endpoints).
package s3

// Config configures an S3 store.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// AccessKeyID/SecretAccessKey are set. For S3-compatible stores, set
// Endpoint and usually ForcePathStyle.
type Config struct {
	// Bucket is the bucket name (required).
	Bucket string

	// Region is the AWS region. Defaults to us-east-1 for AWS S3 when
	// not resolvable from environment or profile; no default is applied
	// for S3-compatible stores (Endpoint set).
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3.
	Endpoint string

	// Profile is the shared-config profile name. Leave empty for the
	// default profile or environment credentials.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey
	// must also be set, and the pair takes precedence over the default
	// credential chain.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path). Required
	// for most S3-compatible stores.
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when none is
// specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
