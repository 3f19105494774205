package github

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/retry"
)

func TestParseRef(t *testing.T) {
	cases := map[string]Ref{
		"https://github.com/octo/app":             {Host: "github.com", Owner: "octo", Repo: "app"},
		"https://www.github.com/octo/app.git":     {Host: "github.com", Owner: "octo", Repo: "app"},
		"github.com/octo/app/tree/main/src":       {Host: "github.com", Owner: "octo", Repo: "app"},
		"git@github.com:octo/app.git":             {Host: "github.com", Owner: "octo", Repo: "app"},
		"octo/app":                                {Owner: "octo", Repo: "app"},
		"  https://ghe.corp.example/team/svc/  ": {Host: "ghe.corp.example", Owner: "team", Repo: "svc"},
	}
	for in, want := range cases {
		got, err := ParseRef(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "app", "https://github.com/octo", "octo/a b", "github.com/octo"} {
		_, err := ParseRef(bad)
		assert.ErrorIs(t, err, ErrInvalidRef, bad)
	}
}

type fakeGitHub struct {
	flakyCalls atomic.Int32
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/repos/octo/app/contents/":
		json.NewEncoder(w).Encode([]map[string]string{
			{"name": "README.md", "type": "file"},
			{"name": "package.json", "type": "file"},
			{"name": "src", "type": "dir"},
		})
	case "/repos/octo/app/contents/package.json":
		manifest := `{"name":"app","dependencies":{"react":"18.2.0"}}` + strings.Repeat(" ", 600)
		json.NewEncoder(w).Encode(map[string]string{
			"type":     "file",
			"name":     "package.json",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(manifest)),
		})
	case "/repos/octo/bare/contents/":
		json.NewEncoder(w).Encode([]map[string]string{{"name": "main.c", "type": "file"}})
	case "/repos/octo/broken-manifest/contents/":
		json.NewEncoder(w).Encode([]map[string]string{{"name": "requirements.txt", "type": "file"}})
	case "/repos/octo/broken-manifest/contents/requirements.txt":
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"boom"}`))
	case "/repos/octo/private/contents/":
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"Resource not accessible by integration"}`))
	case "/repos/octo/flaky/contents/":
		if f.flakyCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"message":"bad gateway"}`))
			return
		}
		json.NewEncoder(w).Encode([]map[string]string{{"name": "pyproject.toml", "type": "file"}})
	case "/repos/octo/flaky/contents/pyproject.toml":
		json.NewEncoder(w).Encode(map[string]string{
			"type": "file", "encoding": "base64",
			"content": base64.StdEncoding.EncodeToString([]byte("[project]\nname = \"flaky\"\ndependencies = [\"torch\"]\n")),
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	}
}

func newTestProber(t *testing.T) (*Prober, *fakeGitHub) {
	t.Helper()
	return newTestProberWithLogger(t, zerolog.Nop())
}

func newTestProberWithLogger(t *testing.T, logger zerolog.Logger) (*Prober, *fakeGitHub) {
	t.Helper()
	fake := &fakeGitHub{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := gh.NewClient(srv.Client())
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	p := NewProberWithClient(client, ProberConfig{
		WebHost:          "github.com",
		MaxManifestBytes: 500,
		Timeout:          5 * time.Second,
		Retry:            retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, logger)
	return p, fake
}

func TestProbe_Success(t *testing.T) {
	p, _ := newTestProber(t)
	snap := p.Probe(context.Background(), "https://github.com/octo/app")

	require.True(t, snap.Success, snap.Error)
	assert.Equal(t, "app", snap.Name)
	assert.Equal(t, "octo", snap.Owner)
	assert.Equal(t, []string{"README.md", "package.json", "src"}, snap.Files)
	assert.Equal(t, "package.json", snap.ConfigFileName, "package.json outranks README.md")
	assert.Len(t, snap.Config, 500)
	assert.Contains(t, snap.Config, "react")
}

func TestProbe_NoManifest(t *testing.T) {
	p, _ := newTestProber(t)
	snap := p.Probe(context.Background(), "octo/bare")
	assert.True(t, snap.Success)
	assert.False(t, snap.HasConfig())
	assert.Empty(t, snap.ConfigFileName)
}

func TestProbe_ManifestFailureKeepsListing(t *testing.T) {
	p, _ := newTestProber(t)
	snap := p.Probe(context.Background(), "octo/broken-manifest")
	assert.True(t, snap.Success)
	assert.Equal(t, []string{"requirements.txt"}, snap.Files)
	assert.False(t, snap.HasConfig())
}

func TestProbe_ManifestRetriesAreLogged(t *testing.T) {
	var buf bytes.Buffer
	p, _ := newTestProberWithLogger(t, zerolog.New(&buf).Level(zerolog.DebugLevel))
	snap := p.Probe(context.Background(), "octo/broken-manifest")
	require.True(t, snap.Success)

	var retries int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, "retrying GitHub call") {
			retries++
			assert.Contains(t, line, `"file":"requirements.txt"`)
			assert.Contains(t, line, `"repo":"broken-manifest"`)
		}
	}
	assert.Equal(t, 2, retries, "three attempts, two retries")
}

func TestProbe_Failures(t *testing.T) {
	p, _ := newTestProber(t)
	ctx := context.Background()

	cases := map[string]string{
		"https://github.com/octo/missing": "Repository not found",
		"https://github.com/octo/private": "Rate limit exceeded or private repository",
		"not a url":                       "Invalid GitHub URL format",
		"https://gitlab.com/octo/app":     "Invalid GitHub URL format",
	}
	for ref, msg := range cases {
		snap := p.Probe(ctx, ref)
		assert.False(t, snap.Success, ref)
		assert.Equal(t, msg, snap.Error, ref)
		assert.Empty(t, snap.Files, ref)
	}
}

func TestProbe_RetriesTransientErrors(t *testing.T) {
	p, fake := newTestProber(t)
	snap := p.Probe(context.Background(), "octo/flaky")
	require.True(t, snap.Success, snap.Error)
	assert.Equal(t, int32(2), fake.flakyCalls.Load())
	assert.Contains(t, snap.Config, "torch")
}

func TestWebHost(t *testing.T) {
	u, _ := url.Parse("https://api.github.com/")
	assert.Equal(t, "github.com", webHost(u))
	u, _ = url.Parse("https://ghe.corp.example/api/v3/")
	assert.Equal(t, "ghe.corp.example", webHost(u))
	u, _ = url.Parse("https://api.ghe.corp.example/")
	assert.Equal(t, "ghe.corp.example", webHost(u))
}

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func TestAppAuth_TokenCachedAndInjected(t *testing.T) {
	var mints atomic.Int32
	var seenAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/app/installations/42/access_tokens":
			assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
			mints.Add(1)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"token":      "ghs_installation",
				"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
		default:
			seenAuth.Store(r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	auth, err := NewAppAuthFromKeyBytes(7, 42, testKeyPEM(t), srv.URL, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	tok, err := auth.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ghs_installation", tok)
	_, err = auth.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), mints.Load())

	client := &http.Client{Transport: auth.Transport(nil)}
	resp, err := client.Get(srv.URL + "/repos/octo/app/contents/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "token ghs_installation", seenAuth.Load())
}

func TestAppAuth_MintFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad credentials"}`))
	}))
	defer srv.Close()

	auth, err := NewAppAuthFromKeyBytes(7, 42, testKeyPEM(t), srv.URL, zerolog.Nop())
	require.NoError(t, err)
	_, err = auth.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewAppAuth_BadKey(t *testing.T) {
	_, err := NewAppAuthFromKeyBytes(1, 2, []byte("not a key"), "", zerolog.Nop())
	assert.Error(t, err)
}
