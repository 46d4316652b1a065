package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

const (
	EnvAccessToken = "AGB2O_ACCESS_TOKEN"
	EnvProjectID   = "AGB2O_PROJECT_ID"
)

// envProvider 从环境变量读取单个 token；被禁用后在进程生命周期内不再返回。
type envProvider struct {
	mu       sync.Mutex
	disabled map[string]struct{}
}

func newEnvProvider() *envProvider {
	return &envProvider{disabled: make(map[string]struct{})}
}

func (p *envProvider) Current(ctx context.Context) (*Credential, error) {
	access := strings.TrimSpace(os.Getenv(EnvAccessToken))
	if access == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrNoCredential, EnvAccessToken)
	}
	p.mu.Lock()
	_, disabled := p.disabled[access]
	p.mu.Unlock()
	if disabled {
		return nil, fmt.Errorf("%w: %s has been disabled", ErrNoCredential, EnvAccessToken)
	}
	return &Credential{
		AccessToken: access,
		ProjectID:   strings.TrimSpace(os.Getenv(EnvProjectID)),
		Source:      SourceEnv,
	}, nil
}

func (p *envProvider) Disable(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return nil
	}
	p.mu.Lock()
	p.disabled[cred.AccessToken] = struct{}{}
	p.mu.Unlock()
	return nil
}
