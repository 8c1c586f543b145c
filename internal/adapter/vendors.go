package adapter

import (
	"encoding/base64"

	"github.com/tax-connect/pos-connector/internal/domain"
)

// NewDefaultRegistry returns a registry loaded with the built-in vendor
// descriptors. Registration order matters: it is the detection tie-breaker.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()

	// the built-in descriptors are known-good, a registration failure here
	// is a programming error
	for _, descriptor := range builtinDescriptors() {
		if err := registry.Register(descriptor); err != nil {
			panic(err)
		}
	}

	return registry
}

func builtinDescriptors() []*VendorDescriptor {
	return []*VendorDescriptor{
		{
			POSType:         domain.POSTypeShopify,
			DisplayName:     "Shopify",
			BaseURLTemplate: "https://{shop_domain}/admin/api/2024-01",
			ProbeEndpoints:  []string{"/shop.json"},
			SignatureHeader: "X-Shopify-API-Version",
			AuthHeaderBuilder: func(creds domain.AuthCredentials) (string, string) {
				return "X-Shopify-Access-Token", creds.AccessToken
			},
			RequiredCredentials: []string{"shop_domain", "access_token"},
			SupportedFeatures:   []string{"transactions", "products", "customers", "tax_calculation", "webhooks"},
			OAuth: OAuthEndpoints{
				AuthorizeURLTemplate: "https://{shop_domain}/admin/oauth/authorize",
				TokenURL:             "https://{shop_domain}/admin/oauth/access_token",
				Scopes:               []string{"read_orders", "read_products", "read_customers"},
			},
			WebhookSecretHeader: "X-Shopify-Hmac-Sha256",
		},
		{
			POSType:         domain.POSTypeSquare,
			DisplayName:     "Square",
			BaseURLTemplate: "https://connect.squareup.com/v2",
			ProbeEndpoints:  []string{"/locations", "/merchants"},
			SignatureHeader: "Square-Version",
			AuthHeaderBuilder: func(creds domain.AuthCredentials) (string, string) {
				return "Authorization", "Bearer " + creds.AccessToken
			},
			RequiredCredentials: []string{"access_token"},
			SupportedFeatures:   []string{"transactions", "products", "customers", "tax_calculation", "webhooks"},
			OAuth: OAuthEndpoints{
				AuthorizeURLTemplate: "https://connect.squareup.com/oauth2/authorize",
				TokenURL:             "https://connect.squareup.com/oauth2/token",
				Scopes:               []string{"ORDERS_READ", "ITEMS_READ", "CUSTOMERS_READ"},
			},
			WebhookSecretHeader: "X-Square-Hmacsha256-Signature",
		},
		{
			POSType:         domain.POSTypeClover,
			DisplayName:     "Clover",
			BaseURLTemplate: "https://api.clover.com/v3/merchants/{merchant_id}",
			ProbeEndpoints:  []string{"", "/orders"},
			SignatureHeader: "X-Clover-Auth-Redirect",
			AuthHeaderBuilder: func(creds domain.AuthCredentials) (string, string) {
				if creds.AccessToken != "" {
					return "Authorization", "Bearer " + creds.AccessToken
				}
				basic := base64.StdEncoding.EncodeToString([]byte(creds.APIKey + ":" + creds.APISecret))
				return "Authorization", "Basic " + basic
			},
			RequiredCredentials: []string{"merchant_id", "api_key"},
			SupportedFeatures:   []string{"transactions", "products", "tax_calculation", "webhooks"},
			OAuth: OAuthEndpoints{
				AuthorizeURLTemplate: "https://www.clover.com/oauth/authorize",
				TokenURL:             "https://www.clover.com/oauth/token",
				Scopes:               []string{"read"},
			},
			WebhookSecretHeader: "X-Clover-Signature",
		},
	}
}
