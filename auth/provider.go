package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NewProvider 根据来源创建 TokenProvider。
// source 允许：accounts/env/auto；空值按 accounts 处理。accountsPath 为空时使用 ~/.agb2o/accounts.json。
func NewProvider(source string, accountsPath string) (TokenProvider, error) {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		s = string(SourceAccounts)
	}
	switch Source(s) {
	case SourceAccounts:
		return newAccountsProvider(accountsPath)
	case SourceEnv:
		return newEnvProvider(), nil
	case SourceAuto:
		accounts, err := newAccountsProvider(accountsPath)
		if err != nil {
			return nil, err
		}
		return &autoProvider{providers: []sourcedProvider{
			{source: SourceAccounts, provider: accounts},
			{source: SourceEnv, provider: newEnvProvider()},
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported auth source: %s", source)
	}
}

type sourcedProvider struct {
	source   Source
	provider TokenProvider
}

type autoProvider struct {
	providers []sourcedProvider
}

func (p *autoProvider) Current(ctx context.Context) (*Credential, error) {
	var lastErr error
	for _, sp := range p.providers {
		cred, err := sp.provider.Current(ctx)
		if err == nil && cred != nil && strings.TrimSpace(cred.AccessToken) != "" {
			return cred, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		if errors.Is(lastErr, ErrNoCredential) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %w", ErrNoCredential, lastErr)
	}
	return nil, ErrNoCredential
}

func (p *autoProvider) Disable(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return nil
	}
	for _, sp := range p.providers {
		if sp.source == cred.Source {
			return sp.provider.Disable(ctx, cred)
		}
	}
	return fmt.Errorf("unknown credential source: %s", cred.Source)
}
