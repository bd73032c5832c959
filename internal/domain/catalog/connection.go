package catalog

import (
	"fmt"
	"strings"
)

// Credentials is the decrypted credential document of an integration.
// WooCommerce uses the consumer key pair, Shopify the admin access token.
type Credentials struct {
	ConsumerKey    string `json:"consumer_key,omitempty"`
	ConsumerSecret string `json:"consumer_secret,omitempty"`
	AccessToken    string `json:"access_token,omitempty"`
}

func (c Credentials) Validate(p Platform) error {
	switch p {
	case PlatformWooCommerce:
		if strings.TrimSpace(c.ConsumerKey) == "" || strings.TrimSpace(c.ConsumerSecret) == "" {
			return fmt.Errorf("woocommerce credentials require consumer_key and consumer_secret")
		}
	case PlatformShopify:
		if strings.TrimSpace(c.AccessToken) == "" {
			return fmt.Errorf("shopify credentials require access_token")
		}
	default:
		return fmt.Errorf("unknown platform %q", p)
	}
	return nil
}

// Connection is an integration with its secrets resolved, ready for upstream calls.
type Connection struct {
	Integration   *Integration
	Credentials   Credentials
	WebhookSecret string
}

// BaseURL returns the store origin, defaulting to https when the domain has no scheme.
func (c *Connection) BaseURL() string {
	if c == nil || c.Integration == nil {
		return ""
	}
	d := strings.TrimRight(strings.TrimSpace(c.Integration.StoreDomain), "/")
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return d
	}
	return "https://" + d
}
