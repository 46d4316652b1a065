package auth

import (
	"context"
	"errors"
	"time"
)

// ErrNoCredential 表示当前没有可用凭证（全部被禁用或未配置）。
var ErrNoCredential = errors.New("no credential available")

// Credential 是访问上游所需的 bearer token 及附带信息。
// 核心只读取它，失败时通过 TokenProvider.Disable 上报。
type Credential struct {
	AccessToken  string
	RefreshToken string
	ProjectID    string
	Email        string
	ExpiresAt    time.Time
	Source       Source
}

// Expired 判断 token 是否已过期；ExpiresAt 为零值时视为不过期。
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// TokenProvider 管理凭证的获取与禁用，实现需自行保证并发安全。
type TokenProvider interface {
	// Current 返回本次调用使用的凭证；没有可用凭证时返回 ErrNoCredential。
	Current(ctx context.Context) (*Credential, error)
	// Disable 禁用凭证（例如上游返回 403 时）。
	Disable(ctx context.Context, cred *Credential) error
}

type Source string

const (
	SourceAccounts Source = "accounts"
	SourceEnv      Source = "env"
	SourceAuto     Source = "auto"
)
