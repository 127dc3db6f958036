package config

import (
	"fmt"

	"cartoonize/domain"
)

// Credentials are the per-session secrets. They are resolved once at session
// start and never written to disk or logs.
type Credentials struct {
	OpenAIKey           string
	ReplicateToken      string
	CloudflareAccountID string
	CloudflareAPIToken  string
}

// Credentials returns the secrets resolved from configuration.
func (c *Config) Credentials() Credentials {
	return Credentials{
		OpenAIKey:           c.APIKeys.OpenAI,
		ReplicateToken:      c.APIKeys.Replicate,
		CloudflareAccountID: c.CloudflareCredentials.AccountID,
		CloudflareAPIToken:  c.CloudflareCredentials.APIToken,
	}
}

// Merge returns a copy of c with every non-empty field of override applied.
func (c Credentials) Merge(override Credentials) Credentials {
	if override.OpenAIKey != "" {
		c.OpenAIKey = override.OpenAIKey
	}
	if override.ReplicateToken != "" {
		c.ReplicateToken = override.ReplicateToken
	}
	if override.CloudflareAccountID != "" {
		c.CloudflareAccountID = override.CloudflareAccountID
	}
	if override.CloudflareAPIToken != "" {
		c.CloudflareAPIToken = override.CloudflareAPIToken
	}
	return c
}

// Missing lists the configuration keys the backend kind needs but lacks.
func (c Credentials) Missing(kind domain.BackendKind, remoteProvider string) []string {
	var missing []string
	need := func(value, key string) {
		if value == "" {
			missing = append(missing, key)
		}
	}
	switch kind {
	case domain.TextToImage:
		need(c.OpenAIKey, "OPENAI_API_KEY")
	case domain.ImageToImageRemote:
		if remoteProvider == RemoteReplicate {
			need(c.ReplicateToken, "REPLICATE_API_TOKEN")
		}
		need(c.CloudflareAccountID, "CLOUDFLARE_ACCOUNT_ID")
		need(c.CloudflareAPIToken, "CLOUDFLARE_API_TOKEN")
	case domain.ImageToImageLocal:
	}
	return missing
}

// Require returns a CredentialMissing error when the backend cannot run.
func (c Credentials) Require(kind domain.BackendKind, remoteProvider string) error {
	if missing := c.Missing(kind, remoteProvider); len(missing) > 0 {
		return domain.CredentialMissing(missing...)
	}
	return nil
}

// String never prints secret values.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{openai:%s replicate:%s cloudflare_account:%s cloudflare_token:%s}",
		mask(c.OpenAIKey), mask(c.ReplicateToken), mask(c.CloudflareAccountID), mask(c.CloudflareAPIToken))
}

// GoString keeps %#v from leaking secrets.
func (c Credentials) GoString() string { return c.String() }

func mask(s string) string {
	if s == "" {
		return "unset"
	}
	return "set"
}
