package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	// QQDefaultAuthURL is QQ's OAuth 2.0 authorization endpoint.
	QQDefaultAuthURL = "https://graph.qq.com/oauth2.0/authorize"
	// QQDefaultTokenURL is QQ's OAuth 2.0 token endpoint.
	QQDefaultTokenURL = "https://graph.qq.com/oauth2.0/token"
	// QQDefaultUserURL is QQ's user info endpoint.
	QQDefaultUserURL = "https://graph.qq.com/user/get_user_info"
	// QQDefaultOpenIDURL is QQ's identifier-resolution endpoint. QQ does not
	// return the user id with the token; it takes a separate call.
	QQDefaultOpenIDURL = "https://graph.qq.com/oauth2.0/me"
)

// QQAdapter implements the Adapter interface for QQ OAuth 2.0. The full
// flow takes three round trips: token (form-urlencoded over GET), openid
// resolution (JSONP-wrapped JSON), then the profile fetch.
type QQAdapter struct {
	cfg  Config
	http *HTTPClient
}

// NewQQAdapter creates a new QQ adapter.
func NewQQAdapter(cfg Config, c Clients) (*QQAdapter, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("qq: client_id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("qq: client_secret is required")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("qq: callback_url is required")
	}

	if cfg.AuthURL == "" {
		cfg.AuthURL = QQDefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = QQDefaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = QQDefaultUserURL
	}
	if cfg.OpenIDURL == "" {
		cfg.OpenIDURL = QQDefaultOpenIDURL
	}

	return &QQAdapter{cfg: cfg, http: c.Direct}, nil
}

// QQFactory creates a QQ adapter from config.
func QQFactory(cfg Config, c Clients) (Adapter, error) {
	return NewQQAdapter(cfg, c)
}

// Type returns the provider type tag.
func (p *QQAdapter) Type() string {
	return "qq"
}

// AuthorizationURL builds the authorization URL with the return path
// embedded inside redirect_uri.
func (p *QQAdapter) AuthorizationURL(nextURL string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.cfg.ClientID},
		"redirect_uri":  {p.cfg.CallbackURL + "&next_url=" + nextURL},
	}
	return p.cfg.AuthURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for an access token. QQ's
// token endpoint is queried with GET and answers form-urlencoded.
func (p *QQAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	params := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.cfg.CallbackURL},
	}

	body, err := p.http.Get(ctx, p.cfg.TokenURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: qq: %v", ErrTokenExchange, err)
	}

	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, fmt.Errorf("%w: qq: parsing token response: %v", ErrTokenExchange, err)
	}
	accessToken := values.Get("access_token")
	if accessToken == "" {
		return nil, fmt.Errorf("%w: qq: no access_token in response: %s", ErrTokenExchange, body)
	}

	return &Token{AccessToken: accessToken}, nil
}

// resolveOpenID performs the extra round trip that maps an access token to
// the provider-scoped user id. The response is JSONP-wrapped JSON.
func (p *QQAdapter) resolveOpenID(ctx context.Context, accessToken string) (string, error) {
	params := url.Values{
		"access_token": {accessToken},
	}

	body, err := p.http.Get(ctx, p.cfg.OpenIDURL, params, nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		OpenID string `json:"openid"`
	}
	if err := json.Unmarshal([]byte(unwrapJSONP(body)), &resp); err != nil {
		return "", fmt.Errorf("parsing openid response: %w", err)
	}
	if resp.OpenID == "" {
		return "", fmt.Errorf("no openid in response: %s", body)
	}

	return resp.OpenID, nil
}

// qqUserResponse represents QQ's user info response structure.
type qqUserResponse struct {
	Nickname  string `json:"nickname"`
	FigureURL string `json:"figureurl"`
	Email     string `json:"email"`
}

// FetchProfile resolves the openid, then fetches user information from QQ.
func (p *QQAdapter) FetchProfile(ctx context.Context, tok *Token) (*Profile, error) {
	openID := tok.OpenID
	if openID == "" {
		var err error
		openID, err = p.resolveOpenID(ctx, tok.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("%w: qq: %v", ErrProfileFetch, err)
		}
	}

	params := url.Values{
		"access_token":       {tok.AccessToken},
		"oauth_consumer_key": {p.cfg.ClientID},
		"openid":             {openID},
	}

	body, err := p.http.Get(ctx, p.cfg.UserURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: qq: %v", ErrProfileFetch, err)
	}

	var resp qqUserResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: qq: parsing profile: %v", ErrProfileFetch, err)
	}

	return &Profile{
		OpenID:      openID,
		Nickname:    resp.Nickname,
		AvatarURL:   resp.FigureURL,
		Email:       resp.Email,
		AccessToken: tok.AccessToken,
		Raw:         body,
	}, nil
}

// AvatarFromRaw re-extracts the avatar URL from a stored raw profile.
func (p *QQAdapter) AvatarFromRaw(raw string) (string, error) {
	var resp qqUserResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("qq: parsing raw profile: %w", err)
	}
	return resp.FigureURL, nil
}

// RetainsToken reports that QQ access tokens are persisted.
func (p *QQAdapter) RetainsToken() bool {
	return true
}

// unwrapJSONP strips a callback( ... ); wrapper so the payload parses as
// plain JSON. Bodies without a wrapper pass through unchanged.
func unwrapJSONP(body string) string {
	s := strings.TrimSpace(body)
	start := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start+1 : end]
}
