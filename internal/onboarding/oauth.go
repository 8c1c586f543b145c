package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/domain"

	"github.com/golang-jwt/jwt"
)

var ErrInvalidOAuthState = errors.New("oauth state token is invalid")

type stateClaims struct {
	*jwt.StandardClaims
	SessionID string `json:"session_id"`
}

// StateSigner issues and verifies the signed state parameter carried
// through the vendor's OAuth redirect. The state embeds the session id so
// the callback can be correlated back to the session, and it is signed so
// a forged callback cannot attach itself to someone else's session.
type StateSigner struct {
	key []byte
}

func NewStateSigner(key string) *StateSigner {
	return &StateSigner{key: []byte(key)}
}

func (ss *StateSigner) Sign(sessionID domain.SessionID, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &stateClaims{
		StandardClaims: &jwt.StandardClaims{
			ExpiresAt: expiresAt.UTC().Unix(),
		},
		SessionID: sessionID.String(),
	})
	return token.SignedString(ss.key)
}

func (ss *StateSigner) Verify(state string) (domain.SessionID, error) {
	var claims stateClaims

	token, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ss.key, nil
	})
	if err != nil || !token.Valid || claims.SessionID == "" {
		return "", ErrInvalidOAuthState
	}

	return domain.SessionID(claims.SessionID), nil
}

// BuildAuthorizeURL renders a vendor's authorize URL: the template's
// {shop_domain} placeholder is substituted, then the standard OAuth query
// parameters are appended.
func BuildAuthorizeURL(descriptor *adapter.VendorDescriptor, creds domain.AuthCredentials, redirectURI string, state string) string {
	authorizeURL := strings.ReplaceAll(descriptor.OAuth.AuthorizeURLTemplate, "{shop_domain}", creds.ShopDomain)

	query := url.Values{}
	query.Set("client_id", creds.APIKey)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	if len(descriptor.OAuth.Scopes) > 0 {
		query.Set("scope", strings.Join(descriptor.OAuth.Scopes, ","))
	}

	separator := "?"
	if strings.Contains(authorizeURL, "?") {
		separator = "&"
	}
	return authorizeURL + separator + query.Encode()
}

// TokenExchanger swaps an OAuth authorization code for vendor credentials.
type TokenExchanger interface {
	Exchange(ctx context.Context, descriptor *adapter.VendorDescriptor, code string, partial domain.AuthCredentials) (domain.AuthCredentials, error)
}

// HTTPTokenExchanger posts the code to the vendor's token endpoint.
type HTTPTokenExchanger struct {
	client *http.Client
}

func NewHTTPTokenExchanger(timeout time.Duration) *HTTPTokenExchanger {
	return &HTTPTokenExchanger{client: &http.Client{Timeout: timeout}}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	MerchantID   string `json:"merchant_id"`
}

func (te *HTTPTokenExchanger) Exchange(ctx context.Context, descriptor *adapter.VendorDescriptor, code string, partial domain.AuthCredentials) (domain.AuthCredentials, error) {

	tokenURL := strings.ReplaceAll(descriptor.OAuth.TokenURL, "{shop_domain}", partial.ShopDomain)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", partial.APIKey)
	form.Set("client_secret", partial.APISecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.AuthCredentials{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := te.client.Do(req)
	if err != nil {
		return domain.AuthCredentials{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.AuthCredentials{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.AuthCredentials{}, err
	}

	if parsed.AccessToken == "" {
		return domain.AuthCredentials{}, errors.New("token endpoint returned no access token")
	}

	creds := partial
	creds.AccessToken = parsed.AccessToken
	creds.RefreshToken = parsed.RefreshToken
	if parsed.MerchantID != "" {
		creds.MerchantID = parsed.MerchantID
	}
	return creds, nil
}
