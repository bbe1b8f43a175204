// Package forge vends go-github clients authenticated as a GitHub App
// installation, and wraps the status/gist/label calls the evaluator needs.
// The vending machine is a process-wide map (owner, repo) -> installation
// ID -> client guarded by a single writer lock: the JWT is cheap to mint
// and is recomputed per call (it's only valid for minutes), while
// installation IDs are cached indefinitely and per-installation clients
// are cached until the forge answers one of their requests with a 401.
package forge

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/ofborg-go/ofborg/internal/config"
)

const userAgent = "github.com/ofborg-go/ofborg (app)"

// VendingMachine caches installation clients for one GitHub App.
type VendingMachine struct {
	conf config.GithubApp

	// privateKey and oauthSecret are read once at construction, matching
	// the "read once at startup, cache in memory" decision recorded for
	// the app's OAuth client secret.
	privateKey  []byte
	oauthSecret string

	mu          sync.Mutex
	idCache     map[repoKey]*int64
	clientCache map[int64]*github.Client
}

type repoKey struct{ owner, repo string }

// NewVendingMachine reads GithubApp's private key and OAuth secret files
// once and returns a ready VendingMachine.
func NewVendingMachine(conf config.GithubApp) (*VendingMachine, error) {
	key, err := os.ReadFile(conf.PrivateKey)
	if err != nil {
		return nil, xerrors.Errorf("reading github app private key: %w", err)
	}
	secretBytes, err := os.ReadFile(conf.OAuthClientSecretFile)
	if err != nil {
		return nil, xerrors.Errorf("reading github app oauth secret: %w", err)
	}

	return &VendingMachine{
		conf:        conf,
		privateKey:  key,
		oauthSecret: strings.TrimSpace(string(secretBytes)),
		idCache:     make(map[repoKey]*int64),
		clientCache: make(map[int64]*github.Client),
	}, nil
}

// jwt mints a fresh App JWT, issued-at backdated 30 seconds and expiring
// nine minutes from now, inside the ten-minute JWT lifetime GitHub accepts.
func (v *VendingMachine) jwt() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(v.privateKey)
	if err != nil {
		return "", xerrors.Errorf("parsing github app private key: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(v.conf.AppID, 10),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", xerrors.Errorf("signing github app jwt: %w", err)
	}
	return signed, nil
}

func (v *VendingMachine) appClient(ctx context.Context) (*github.Client, error) {
	jwtToken, err := v.jwt()
	if err != nil {
		return nil, err
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: jwtToken, TokenType: "Bearer"})
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)
	client.UserAgent = userAgent
	return client, nil
}

// installIDForRepo looks up and caches the installation ID for owner/repo.
// A negative lookup (App not installed) is not cached, so a later install
// is picked up without a restart.
func (v *VendingMachine) installIDForRepo(ctx context.Context, owner, repo string) (int64, error) {
	key := repoKey{owner, repo}

	v.mu.Lock()
	if id, ok := v.idCache[key]; ok {
		v.mu.Unlock()
		return *id, nil
	}
	v.mu.Unlock()

	appClient, err := v.appClient(ctx)
	if err != nil {
		return 0, err
	}

	installation, _, err := appClient.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		return 0, xerrors.Errorf("finding installation for %s/%s: %w", owner, repo, err)
	}
	id := installation.GetID()

	v.mu.Lock()
	v.idCache[key] = &id
	v.mu.Unlock()

	return id, nil
}

// ForRepo returns a client authenticated as the installation covering
// owner/repo, minting and caching an installation access token the first
// time that installation is seen.
func (v *VendingMachine) ForRepo(ctx context.Context, owner, repo string) (*github.Client, error) {
	installID, err := v.installIDForRepo(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if c, ok := v.clientCache[installID]; ok {
		v.mu.Unlock()
		return c, nil
	}
	v.mu.Unlock()

	appClient, err := v.appClient(ctx)
	if err != nil {
		return nil, err
	}
	tok, _, err := appClient.Apps.CreateInstallationToken(ctx, installID)
	if err != nil {
		return nil, xerrors.Errorf("creating installation token for install %d: %w", installID, err)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.GetToken(), TokenType: "token"})
	tc := oauth2.NewClient(ctx, ts)
	// Installation tokens expire after an hour. A 401 from this client
	// means the token is stale: drop it from the cache so the next
	// ForRepo mints a fresh one instead of replaying the dead token.
	tc.Transport = &evictOnAuthFailure{
		base:  tc.Transport,
		evict: func() { v.evictClient(installID) },
	}
	client := github.NewClient(tc)
	client.UserAgent = userAgent

	v.mu.Lock()
	v.clientCache[installID] = client
	v.mu.Unlock()

	return client, nil
}

func (v *VendingMachine) evictClient(installID int64) {
	v.mu.Lock()
	delete(v.clientCache, installID)
	v.mu.Unlock()
}

// evictOnAuthFailure invalidates a cached installation client when the
// forge answers 401 Unauthorized.
type evictOnAuthFailure struct {
	base  http.RoundTripper
	evict func()
}

func (t *evictOnAuthFailure) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		t.evict()
	}
	return resp, err
}
