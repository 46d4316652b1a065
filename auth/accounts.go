package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// accountRecord 对应 accounts.json 中的一条账号记录。
type accountRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	// Timestamp 是 token 获取时间（毫秒）。
	Timestamp int64  `json:"timestamp,omitempty"`
	Enable    *bool  `json:"enable,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	Email     string `json:"email,omitempty"`
}

func (r *accountRecord) enabled() bool {
	return strings.TrimSpace(r.AccessToken) != "" && (r.Enable == nil || *r.Enable)
}

func (r *accountRecord) credential() *Credential {
	cred := &Credential{
		AccessToken:  strings.TrimSpace(r.AccessToken),
		RefreshToken: r.RefreshToken,
		ProjectID:    strings.TrimSpace(r.ProjectID),
		Email:        r.Email,
		Source:       SourceAccounts,
	}
	if r.Timestamp > 0 && r.ExpiresIn > 0 {
		cred.ExpiresAt = time.UnixMilli(r.Timestamp).Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return cred
}

// readAccountsFromPath 读取账号文件（JSON 数组）。
func readAccountsFromPath(path string) ([]*accountRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	var records []*accountRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}
	out := records[:0]
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func accountsDefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".agb2o", "accounts.json"), nil
}

// accountsProvider 以 round-robin 方式轮转账号文件中启用且未过期的账号；
// 文件只在首次使用时加载一次，并发的首次加载通过 singleflight 合并。
type accountsProvider struct {
	path      string
	loadGroup singleflight.Group
	now       func() time.Time

	mu       sync.Mutex
	loaded   bool
	accounts []*accountRecord
	next     int
}

func newAccountsProvider(path string) (*accountsProvider, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		p, err := accountsDefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &accountsProvider{path: path, now: time.Now}, nil
}

func (p *accountsProvider) ensureLoaded() error {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if loaded {
		return nil
	}
	_, err, _ := p.loadGroup.Do(p.path, func() (interface{}, error) {
		records, err := readAccountsFromPath(p.path)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		if !p.loaded {
			p.accounts = records
			p.loaded = true
		}
		p.mu.Unlock()
		return nil, nil
	})
	return err
}

func (p *accountsProvider) Current(ctx context.Context) (*Credential, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoCredential, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := len(p.accounts)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		record := p.accounts[idx]
		if !record.enabled() {
			continue
		}
		cred := record.credential()
		if cred.Expired(now) {
			logrus.WithFields(logrus.Fields{"email": cred.Email, "expires_at": cred.ExpiresAt}).Debug("skip expired account")
			continue
		}
		p.next = (idx + 1) % n
		return cred, nil
	}
	return nil, ErrNoCredential
}

// Disable 将匹配 access token 的账号置为 enable=false 并写回文件。
func (p *accountsProvider) Disable(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return nil
	}
	if err := p.ensureLoaded(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	found := false
	for _, record := range p.accounts {
		if strings.TrimSpace(record.AccessToken) != cred.AccessToken {
			continue
		}
		disabled := false
		record.Enable = &disabled
		found = true
	}
	if !found {
		return fmt.Errorf("credential not found in %s", p.path)
	}
	return p.persistLocked()
}

func (p *accountsProvider) persistLocked() error {
	data, err := json.MarshalIndent(p.accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode accounts file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("failed to create accounts dir: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write accounts file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to replace accounts file: %w", err)
	}
	return nil
}
