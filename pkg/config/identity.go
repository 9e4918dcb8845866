package config

import (
	"fmt"
	"strings"
)

// IdentityConfig describes the local identity and the entitlement check.
type IdentityConfig struct {
	Alg            string `mapstructure:"alg"`              // only ed25519
	PrivateKey     string `mapstructure:"private_key"`      // base64url(no padding) of raw private key bytes
	PrivateKeyFile string `mapstructure:"private_key_file"` // path to file containing base64 or raw bytes
	DisplayName    string `mapstructure:"display_name"`

	// EntitlementToken is an EdDSA-signed JWT issued by the platform.
	EntitlementToken string `mapstructure:"entitlement_token"`
	// EntitlementPublicKey is the base64url ed25519 key the token must verify against.
	EntitlementPublicKey string `mapstructure:"entitlement_public_key"`
	RequireEntitlement   bool   `mapstructure:"require_entitlement"`
}

func (c *IdentityConfig) validate() error {
	c.Alg = strings.ToLower(strings.TrimSpace(c.Alg))
	if c.Alg == "" {
		c.Alg = "ed25519"
	}
	if c.Alg != "ed25519" {
		return fmt.Errorf("identity.alg: unsupported %q", c.Alg)
	}
	if c.RequireEntitlement && (c.EntitlementToken == "" || c.EntitlementPublicKey == "") {
		return fmt.Errorf("identity: require_entitlement needs entitlement_token and entitlement_public_key")
	}
	return nil
}
