package auth

import (
	"net/url"
	"strings"
)

// SafeRedirectPath はログイン後の遷移先として使えるアプリ内パスかどうかを判定する。
// "/" で始まる相対パスのみを許可し、"//host" やバックスラッシュ、制御文字を含むものは拒否する。
func SafeRedirectPath(p string) (string, bool) {
	if p == "" || len(p) > 2048 {
		return "", false
	}
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return "", false
	}
	if strings.ContainsAny(p, "\\\r\n\t") {
		return "", false
	}
	for _, r := range p {
		if r < 0x20 || r == 0x7f {
			return "", false
		}
	}

	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return "", false
	}
	return p, true
}
