package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeAccounts(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestReadAccountsFromPath(t *testing.T) {
	p := writeAccounts(t, `[
  {"access_token":"k1","refresh_token":"r1","expires_in":3600,"timestamp":1700000000000,"projectId":"proj-1","email":"a@example.com"},
  {"access_token":"k2","enable":false}
]`)

	records, err := readAccountsFromPath(p)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, records[0].enabled())
	require.False(t, records[1].enabled())

	cred := records[0].credential()
	require.Equal(t, "k1", cred.AccessToken)
	require.Equal(t, "proj-1", cred.ProjectID)
	require.Equal(t, time.UnixMilli(1700000000000).Add(time.Hour), cred.ExpiresAt)
	require.True(t, cred.Expired(cred.ExpiresAt))
	require.False(t, cred.Expired(cred.ExpiresAt.Add(-time.Second)))
}

func TestAccountsProvider_RoundRobinSkipsDisabled(t *testing.T) {
	p := writeAccounts(t, `[{"access_token":"k1"},{"access_token":"k2","enable":false},{"access_token":"k3"}]`)
	provider, err := NewProvider("accounts", p)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 4; i++ {
		cred, err := provider.Current(context.Background())
		require.NoError(t, err)
		got = append(got, cred.AccessToken)
	}
	require.Equal(t, []string{"k1", "k3", "k1", "k3"}, got)
}

func TestAccountsProvider_DisablePersists(t *testing.T) {
	p := writeAccounts(t, `[{"access_token":"k1"},{"access_token":"k2"}]`)
	provider, err := NewProvider("accounts", p)
	require.NoError(t, err)

	cred, err := provider.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, "k1", cred.AccessToken)
	require.NoError(t, provider.Disable(context.Background(), cred))

	for i := 0; i < 3; i++ {
		next, err := provider.Current(context.Background())
		require.NoError(t, err)
		require.Equal(t, "k2", next.AccessToken)
	}

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Equal(t, false, raw[0]["enable"])
	_, hasEnable := raw[1]["enable"]
	require.False(t, hasEnable)

	require.NoError(t, provider.Disable(context.Background(), &Credential{AccessToken: "k2"}))
	_, err = provider.Current(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestAccountsProvider_SkipsExpired(t *testing.T) {
	p := writeAccounts(t, `[
  {"access_token":"old","expires_in":3600,"timestamp":1700000000000},
  {"access_token":"fresh","expires_in":3600,"timestamp":1700003000000},
  {"access_token":"forever"}
]`)
	provider, err := newAccountsProvider(p)
	require.NoError(t, err)
	provider.now = func() time.Time { return time.UnixMilli(1700003600000) }

	var got []string
	for i := 0; i < 3; i++ {
		cred, err := provider.Current(context.Background())
		require.NoError(t, err)
		got = append(got, cred.AccessToken)
	}
	require.Equal(t, []string{"fresh", "forever", "fresh"}, got)

	provider.now = func() time.Time { return time.UnixMilli(1700010000000) }
	cred, err := provider.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, "forever", cred.AccessToken)

	require.NoError(t, provider.Disable(context.Background(), cred))
	_, err = provider.Current(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestAccountsProvider_MissingFile(t *testing.T) {
	provider, err := NewProvider("accounts", filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	_, err = provider.Current(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestAccountsProvider_ConcurrentFirstLoad(t *testing.T) {
	p := writeAccounts(t, `[{"access_token":"k1"}]`)
	provider, err := NewProvider("accounts", p)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := provider.Current(context.Background())
			require.NoError(t, err)
			require.Equal(t, "k1", cred.AccessToken)
		}()
	}
	wg.Wait()
}

func TestEnvProvider(t *testing.T) {
	t.Setenv(EnvAccessToken, "k_access")
	t.Setenv(EnvProjectID, "proj")

	p := newEnvProvider()
	cred, err := p.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, "k_access", cred.AccessToken)
	require.Equal(t, "proj", cred.ProjectID)

	require.NoError(t, p.Disable(context.Background(), cred))
	_, err = p.Current(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestNewProvider_Auto(t *testing.T) {
	// 隔离真实 HOME，避免读取到开发机上的 ~/.agb2o/accounts.json。
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvAccessToken, "k_access")

	p, err := NewProvider("auto", "")
	require.NoError(t, err)
	cred, err := p.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, "k_access", cred.AccessToken)
	require.Equal(t, SourceEnv, cred.Source)

	require.NoError(t, p.Disable(context.Background(), cred))
	_, err = p.Current(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestNewProvider_Unsupported(t *testing.T) {
	_, err := NewProvider("codex", "")
	require.Error(t, err)
}
