package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateBytes = 32

var (
	// ErrStateMissing はコールバックまたはCookieにstateが無いことを示す。
	ErrStateMissing = errors.New("oauth state is missing")
	// ErrStateMismatch はコールバックのstateがCookieの値と一致しないことを示す。
	ErrStateMismatch = errors.New("oauth state does not match")
	// ErrStateInvalid はstate Cookieの署名または有効期限が不正であることを示す。
	ErrStateInvalid = errors.New("oauth state cookie is invalid")
)

// StateClaims はstate Cookieに載せるJWTクレーム。
type StateClaims struct {
	State string `json:"st"`
	Next  string `json:"nxt,omitempty"`
	jwt.RegisteredClaims
}

// StateCodec はOAuth stateの発行と検証を行う。
// state値そのものと、ログイン後の遷移先をHS256署名付きJWTとしてCookieに保存する。
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec はStateCodecを生成する。
func NewStateCodec(secret []byte, ttl time.Duration) *StateCodec {
	return &StateCodec{secret: secret, ttl: ttl, now: time.Now}
}

// TTL はstate Cookieの有効期間を返す。
func (c *StateCodec) TTL() time.Duration {
	return c.ttl
}

// Issue は新しいstate値と、それを保持するCookie値を生成する。
// nextは呼び出し側で検証済みのパスであること。
func (c *StateCodec) Issue(next string) (state string, cookieValue string, err error) {
	state, err = generateState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}

	now := c.now()
	claims := StateClaims{
		State: state,
		Next:  next,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	cookieValue, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state: %w", err)
	}

	return state, cookieValue, nil
}

// Verify はCookie値の署名と有効期限を検証し、stateをバイト単位で比較する。
func (c *StateCodec) Verify(cookieValue, state string) (*StateClaims, error) {
	if cookieValue == "" || state == "" {
		return nil, ErrStateMissing
	}

	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(cookieValue, claims,
		func(*jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}

	if subtle.ConstantTimeCompare([]byte(claims.State), []byte(state)) != 1 {
		return nil, ErrStateMismatch
	}

	return claims, nil
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
