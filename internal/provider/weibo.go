package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

const (
	// WeiboDefaultAuthURL is Weibo's OAuth 2.0 authorization endpoint.
	WeiboDefaultAuthURL = "https://api.weibo.com/oauth2/authorize"
	// WeiboDefaultTokenURL is Weibo's OAuth 2.0 token endpoint.
	WeiboDefaultTokenURL = "https://api.weibo.com/oauth2/access_token"
	// WeiboDefaultUserURL is Weibo's user info endpoint.
	WeiboDefaultUserURL = "https://api.weibo.com/2/users/show.json"
)

// WeiboAdapter implements the Adapter interface for Weibo OAuth 2.0.
// Weibo's token response is JSON and already carries the user id (uid).
type WeiboAdapter struct {
	cfg  Config
	http *HTTPClient
}

// NewWeiboAdapter creates a new Weibo adapter.
func NewWeiboAdapter(cfg Config, c Clients) (*WeiboAdapter, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("weibo: client_id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("weibo: client_secret is required")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("weibo: callback_url is required")
	}

	if cfg.AuthURL == "" {
		cfg.AuthURL = WeiboDefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = WeiboDefaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = WeiboDefaultUserURL
	}

	return &WeiboAdapter{cfg: cfg, http: c.Direct}, nil
}

// WeiboFactory creates a Weibo adapter from config.
func WeiboFactory(cfg Config, c Clients) (Adapter, error) {
	return NewWeiboAdapter(cfg, c)
}

// Type returns the provider type tag.
func (p *WeiboAdapter) Type() string {
	return "weibo"
}

// AuthorizationURL builds the authorization URL. Weibo has no separate
// state mechanism here; the return path rides inside redirect_uri.
func (p *WeiboAdapter) AuthorizationURL(nextURL string) string {
	params := url.Values{
		"client_id":     {p.cfg.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {p.cfg.CallbackURL + "&next_url=" + nextURL},
	}
	return p.cfg.AuthURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for an access token.
func (p *WeiboAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	params := url.Values{
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.cfg.CallbackURL},
	}

	body, err := p.http.PostForm(ctx, p.cfg.TokenURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: weibo: %v", ErrTokenExchange, err)
	}

	var resp struct {
		AccessToken string      `json:"access_token"`
		UID         json.Number `json:"uid"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: weibo: parsing token response: %v", ErrTokenExchange, err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: weibo: no access_token in response: %s", ErrTokenExchange, body)
	}

	return &Token{AccessToken: resp.AccessToken, OpenID: resp.UID.String()}, nil
}

// weiboUserResponse represents Weibo's user info response structure.
type weiboUserResponse struct {
	ID          json.Number `json:"id"`
	ScreenName  string      `json:"screen_name"`
	AvatarLarge string      `json:"avatar_large"`
	Email       string      `json:"email"`
}

// FetchProfile fetches user information from Weibo using the uid resolved
// during the token exchange.
func (p *WeiboAdapter) FetchProfile(ctx context.Context, tok *Token) (*Profile, error) {
	params := url.Values{
		"uid":          {tok.OpenID},
		"access_token": {tok.AccessToken},
	}

	body, err := p.http.Get(ctx, p.cfg.UserURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: weibo: %v", ErrProfileFetch, err)
	}

	var resp weiboUserResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: weibo: parsing profile: %v", ErrProfileFetch, err)
	}
	if resp.ID.String() == "" {
		return nil, fmt.Errorf("%w: weibo: no id in profile: %s", ErrProfileFetch, body)
	}

	return &Profile{
		OpenID:      resp.ID.String(),
		Nickname:    resp.ScreenName,
		AvatarURL:   resp.AvatarLarge,
		Email:       resp.Email,
		AccessToken: tok.AccessToken,
		Raw:         body,
	}, nil
}

// AvatarFromRaw re-extracts the avatar URL from a stored raw profile.
func (p *WeiboAdapter) AvatarFromRaw(raw string) (string, error) {
	var resp weiboUserResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("weibo: parsing raw profile: %w", err)
	}
	return resp.AvatarLarge, nil
}

// RetainsToken reports that Weibo access tokens are persisted.
func (p *WeiboAdapter) RetainsToken() bool {
	return true
}
