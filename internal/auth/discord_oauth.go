package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/botdir/internal/model"
	"golang.org/x/oauth2"
)

const (
	defaultDiscordAuthURL    = "https://discord.com/oauth2/authorize"
	defaultDiscordTokenURL   = "https://discord.com/api/oauth2/token"
	defaultDiscordAPIBaseURL = "https://discord.com/api"
	discordCDNBaseURL        = "https://cdn.discordapp.com"

	defaultExchangeTimeout = 15 * time.Second
	maxUserInfoBodySize    = 1 << 20
)

// discordScopes はDiscordに要求するスコープ。
var discordScopes = []string{"identify", "email"}

// DiscordOAuthConfig はDiscord OAuthプロバイダーの設定。
type DiscordOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	APIBaseURL string

	// Timeout はトークン交換とユーザー情報取得の各HTTP呼び出しのタイムアウト。
	Timeout    time.Duration
	HTTPClient *http.Client
}

// DiscordOAuthProvider はDiscord OAuth 2.0による認証を提供する。
type DiscordOAuthProvider struct {
	oauth      *oauth2.Config
	apiBaseURL string
	client     *http.Client
}

// NewDiscordOAuthProvider はDiscordOAuthProviderを生成する。
func NewDiscordOAuthProvider(config DiscordOAuthConfig) *DiscordOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultDiscordAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultDiscordTokenURL
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultDiscordAPIBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultExchangeTimeout
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &DiscordOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       discordScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthURL,
				TokenURL: config.TokenURL,
				// 自動判定だと失敗時に送信方式を変えて再送するため、
				// client_id/client_secret をフォームに載せる方式に固定する。
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBaseURL: strings.TrimRight(config.APIBaseURL, "/"),
		client:     client,
	}
}

// GetLoginURL はDiscordの認可URLを生成する。
// スコープにはidentify, emailを含む。
func (p *DiscordOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// discordUser はDiscordの /users/@me のレスポンス。
type discordUser struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	GlobalName    *string `json:"global_name"`
	Avatar        *string `json:"avatar"`
	Email         *string `json:"email"`
	Verified      bool    `json:"verified"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
// トークンエンドポイントへの呼び出しは1回のみで、再試行しない。
func (p *DiscordOAuthProvider) ExchangeCode(ctx context.Context, code string) (*model.OAuthGrant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	// 1. 認可コードをアクセストークンに交換
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	// 2. アクセストークンでユーザー情報を取得
	user, err := p.fetchUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	return &model.OAuthGrant{
		Identity:    user.identity(),
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
		Expiry:      token.Expiry,
	}, nil
}

// fetchUser はアクセストークンでDiscordのユーザー情報を取得する。
func (p *DiscordOAuthProvider) fetchUser(ctx context.Context, token *oauth2.Token) (*discordUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+"/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var user discordUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if user.ID == "" {
		return nil, fmt.Errorf("empty id in user info response")
	}

	return &user, nil
}

// identity はDiscordのユーザー情報をIdentityに変換する。
func (u *discordUser) identity() model.Identity {
	return model.Identity{
		SubjectID:     u.ID,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		GlobalName:    deref(u.GlobalName),
		AvatarURL:     avatarURL(u.ID, deref(u.Avatar)),
		Email:         deref(u.Email),
		EmailVerified: u.Verified,
	}
}

// avatarURL はアバターハッシュからCDNのURLを組み立てる。
// "a_" で始まるハッシュはアニメーションGIF。
func avatarURL(userID, hash string) string {
	if hash == "" {
		return ""
	}
	ext := "png"
	if strings.HasPrefix(hash, "a_") {
		ext = "gif"
	}
	return fmt.Sprintf("%s/avatars/%s/%s.%s", discordCDNBaseURL, userID, hash, ext)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// compile-time interface check
var _ OAuthProvider = (*DiscordOAuthProvider)(nil)
