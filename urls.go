package accounts

import (
	"fmt"
	"net/url"
	"strings"
)

// ConfirmationURL builds {domain}confirm/{accountId}/{token}/ with an
// optional destination query parameter.
func ConfirmationURL(domain, accountID, token, destination string) string {
	u := fmt.Sprintf("%sconfirm/%s/%s/", ensureTrailingSlash(domain), accountID, token)
	if destination != "" {
		u += "?destination=" + url.QueryEscape(destination)
	}
	return u
}

// ClaimURL builds {domain}user/{accountId}/{resourceId}/claim/?token={token}.
func ClaimURL(domain, accountID, resourceID, token string) string {
	return fmt.Sprintf(
		"%suser/%s/%s/claim/?token=%s",
		ensureTrailingSlash(domain), accountID, resourceID, url.QueryEscape(token),
	)
}

// PasswordResetURL builds {domain}resetpassword/{accountId}/{token}.
func PasswordResetURL(domain, accountID, token string) string {
	return fmt.Sprintf("%sresetpassword/%s/%s", ensureTrailingSlash(domain), accountID, token)
}

func ensureTrailingSlash(domain string) string {
	if domain == "" || strings.HasSuffix(domain, "/") {
		return domain
	}
	return domain + "/"
}
