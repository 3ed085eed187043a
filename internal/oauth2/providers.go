package oauth2

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// ProviderEndpoint maps a source type to its identity provider's OAuth2
// endpoints.
func ProviderEndpoint(provider string) (oauth2.Endpoint, error) {
	switch provider {
	case "gmail", "google":
		return google.Endpoint, nil
	case "outlook", "microsoft":
		return microsoft.AzureADEndpoint("common"), nil
	default:
		return oauth2.Endpoint{}, fmt.Errorf("unsupported OAuth2 provider: %s", provider)
	}
}
