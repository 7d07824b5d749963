package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Google is an optional second identity path: sign in with a Google account
// and get the same pseudonymous claims a guest token carries. Enabled only
// when client credentials are configured.
type Google struct {
	oauth       *oauth2.Config
	state       string
	tokens      *Service
	frontendURL string
	log         *slog.Logger
}

type googleUserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// NewGoogle configures the Google sign-in flow.
func NewGoogle(tokens *Service, clientID, clientSecret, redirectURL, frontendURL string, log *slog.Logger) *Google {
	b := make([]byte, 32)
	rand.Read(b)

	return &Google{
		oauth: &oauth2.Config{
			RedirectURL:  redirectURL,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		state:       base64.URLEncoding.EncodeToString(b),
		tokens:      tokens,
		frontendURL: frontendURL,
		log:         log.With(slog.String("component", "auth.google")),
	}
}

// Login redirects to the Google consent screen.
func (g *Google) Login(w http.ResponseWriter, r *http.Request) {
	url := g.oauth.AuthCodeURL(g.state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback exchanges the authorization code, reads the profile and redirects
// to the frontend with a signed token. The Google account id becomes the
// userId, the profile name the display name.
func (g *Google) Callback(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("state") != g.state {
		g.log.Warn("invalid oauth state", slog.String("remote", r.RemoteAddr))
		http.Redirect(w, r, g.frontendURL+"/login?error=invalid_state", http.StatusTemporaryRedirect)
		return
	}

	token, err := g.oauth.Exchange(context.Background(), r.FormValue("code"))
	if err != nil {
		g.log.Error("code exchange failed", slog.Any("error", err))
		http.Redirect(w, r, g.frontendURL+"/login?error=exchange_failed", http.StatusTemporaryRedirect)
		return
	}

	info, err := g.userInfo(token.AccessToken)
	if err != nil {
		g.log.Error("userinfo fetch failed", slog.Any("error", err))
		http.Redirect(w, r, g.frontendURL+"/login?error=userinfo_failed", http.StatusTemporaryRedirect)
		return
	}

	signed, err := g.tokens.Sign("google:"+info.ID, info.Name)
	if err != nil {
		g.log.Error("sign token failed", slog.Any("error", err))
		http.Redirect(w, r, g.frontendURL+"/login?error=token_failed", http.StatusTemporaryRedirect)
		return
	}

	g.log.Info("google sign-in", slog.String("userId", "google:"+info.ID))
	http.Redirect(w, r, fmt.Sprintf("%s/auth/callback?token=%s", g.frontendURL, signed), http.StatusTemporaryRedirect)
}

func (g *Google) userInfo(accessToken string) (*googleUserInfo, error) {
	resp, err := http.Get("https://www.googleapis.com/oauth2/v2/userinfo?access_token=" + accessToken)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var info googleUserInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
