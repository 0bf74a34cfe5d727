package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// VippsProvider implementa Provider contra el OIDC de Vipps Login. Vipps no
// entrega avatar; el nombre puede venir compuesto o en given/family name.
type VippsProvider struct {
	clientID     string
	clientSecret string
	callbackURL  string
	baseURL      string
	client       *http.Client
}

func NewVippsProvider(clientID, clientSecret, callbackURL, baseURL string) *VippsProvider {
	if baseURL == "" {
		baseURL = "https://apitest.vipps.no"
	}
	return &VippsProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		callbackURL:  callbackURL,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *VippsProvider) Name() string {
	return "vipps"
}

func (p *VippsProvider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {p.clientID},
		"redirect_uri":  {p.callbackURL},
		"response_type": {"code"},
		"scope":         {"openid email address birthdate name phoneNumber"},
		"state":         {state},
	}
	return p.baseURL + "/access-management-1.0/access/oauth2/auth?" + params.Encode()
}

func (p *VippsProvider) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"code":         {code},
		"grant_type":   {"authorization_code"},
		"redirect_uri": {p.callbackURL},
	}

	endpoint := p.baseURL + "/access-management-1.0/access/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status=%d", ErrExchangeFailed, resp.StatusCode)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", ErrExchangeFailed
	}
	return tr.AccessToken, nil
}

func (p *VippsProvider) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	endpoint := p.baseURL + "/vipps-userinfo-api/userinfo/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Profile{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("userinfo fetch failed: status=%d", resp.StatusCode)
	}

	var ui struct {
		Email      string `json:"email"`
		Name       string `json:"name"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := json.Unmarshal(body, &ui); err != nil {
		return Profile{}, err
	}
	if ui.Email == "" {
		return Profile{}, ErrNoEmail
	}

	name := ui.Name
	if name == "" {
		name = strings.TrimSpace(ui.GivenName + " " + ui.FamilyName)
	}
	return Profile{Email: ui.Email, Name: name}, nil
}
