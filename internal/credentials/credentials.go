// Package credentials loads the store access token and identifiers.
package credentials

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Targets used when the file leaves org or bucket unset.
const (
	DefaultOrg    = "covid-viewer"
	DefaultBucket = "covid-daily"
)

// ErrMissingToken is returned when the credentials file has no token.
var ErrMissingToken = errors.New("credentials: token is required")

// Credentials holds the secrets and identifiers for the target store.
// The file may be JSON or YAML.
type Credentials struct {
	// Token authenticates writes and deletes.
	Token string `yaml:"token"`

	// Org and Bucket name the write target.
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`

	// OrgID and BucketID identify the delete target.
	OrgID    string `yaml:"org_id"`
	BucketID string `yaml:"bucket_id"`

	// Checkpoint names the daily file to resume from.
	Checkpoint string `yaml:"checkpoint"`
}

// Load reads and validates the credentials file at path.
func Load(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file %s: %w", path, err)
	}

	c := Credentials{
		Org:    DefaultOrg,
		Bucket: DefaultBucket,
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing credentials file %s: %w", path, err)
	}

	if c.Token == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrMissingToken)
	}

	return &c, nil
}

// Redacted returns the token with all but its last four characters masked.
func (c *Credentials) Redacted() string {
	if len(c.Token) <= 4 {
		return "****"
	}

	return "****" + c.Token[len(c.Token)-4:]
}
