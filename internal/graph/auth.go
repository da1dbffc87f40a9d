package graph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/student/odsync/internal/tokenfile"
)

// Azure AD application registered for odsync (public client, multi-tenant + personal).
const defaultClientID = "8efac532-bbe7-4bc5-919c-1443ccab860a"

var defaultScopes = []string{
	"offline_access",
	"Files.ReadWrite",
	"User.Read",
}

// ErrNotLoggedIn is returned by TokenSourceFromPath when no token file
// exists at the given path.
var ErrNotLoggedIn = errors.New("graph: not logged in")

// DeviceAuth holds the device code response fields the CLI displays to
// the user during login.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// Login performs the device code OAuth2 flow:
//  1. Requests a device code from Microsoft
//  2. Calls display so the CLI can show the user code and verification URL
//  3. Polls until the user authorizes (blocking, respects ctx cancellation)
//  4. Saves the token to disk at tokenPath
//  5. Returns a TokenSource for use with Client
//
// The returned TokenSource binds ctx to the underlying oauth2 token
// source — ctx must outlive the TokenSource, or silent refresh will fail.
// Long-lived callers should pass context.Background().
func Login(
	ctx context.Context,
	tokenPath string,
	display func(DeviceAuth),
	logger *slog.Logger,
) (TokenSource, error) {
	cfg := oauthConfig(tokenPath, nil, logger)

	return doLogin(ctx, tokenPath, cfg, display, logger)
}

// doLogin implements the device code flow. Accepts a pre-built
// oauth2.Config so tests can inject a mock endpoint.
func doLogin(
	ctx context.Context,
	tokenPath string,
	cfg *oauth2.Config,
	display func(DeviceAuth),
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting device code auth flow", slog.String("path", tokenPath))

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: device auth request failed: %w", err)
	}

	logger.Info("device code received, waiting for user authorization")

	display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("graph: device code authorization failed: %w", err)
	}

	logger.Info("user authorized, saving token", slog.Time("expiry", tok.Expiry))

	if saveErr := tokenfile.Save(tokenPath, tok, nil); saveErr != nil {
		return nil, fmt.Errorf("graph: saving token: %w", saveErr)
	}

	src := cfg.TokenSource(ctx, tok)

	return &tokenBridge{src: src, logger: logger}, nil
}

// TokenSourceFromPath loads a saved token from the given path and returns
// a TokenSource with auto-refresh and auto-persistence via OnTokenChange.
// Returns ErrNotLoggedIn if no token file exists at the path.
func TokenSourceFromPath(ctx context.Context, tokenPath string, logger *slog.Logger) (TokenSource, error) {
	tok, meta, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", expired),
	)

	cfg := oauthConfig(tokenPath, meta, logger)
	src := cfg.TokenSource(ctx, tok)

	return &tokenBridge{src: src, logger: logger}, nil
}

// Logout removes the saved token file at the given path. Returns nil if
// the token file does not exist (already logged out).
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove (already logged out)", slog.String("path", tokenPath))

		return nil
	}

	if err != nil {
		return err
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// oauthConfig builds an oauth2.Config with OnTokenChange wired to persist
// refreshed tokens. meta is captured by the closure so metadata survives
// silent token refreshes.
func oauthConfig(tokenPath string, meta map[string]string, logger *slog.Logger) *oauth2.Config {
	return &oauth2.Config{
		ClientID: defaultClientID,
		Scopes:   defaultScopes,
		Endpoint: microsoft.AzureADEndpoint("common"),
		// Called by ReuseTokenSource after each silent refresh, outside its mutex.
		OnTokenChange: func(tok *oauth2.Token) {
			logger.Info("token refreshed by oauth2 library",
				slog.String("path", tokenPath),
				slog.Time("new_expiry", tok.Expiry),
			)

			if err := tokenfile.Save(tokenPath, tok, meta); err != nil {
				logger.Warn("failed to persist refreshed token",
					slog.String("path", tokenPath),
					slog.String("error", err.Error()),
				)
			}
		},
	}
}

// tokenBridge adapts oauth2.TokenSource to graph.TokenSource. Logs every
// token acquisition so refresh activity is visible.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))

		return "", fmt.Errorf("graph: obtaining token: %w", err)
	}

	b.logger.Debug("token acquired", slog.Time("expiry", t.Expiry), slog.Bool("valid", t.Valid()))

	return t.AccessToken, nil
}

// LoadTokenMeta reads just the metadata from a token file. Returns nil
// metadata (not an error) if the file does not exist.
func LoadTokenMeta(tokenPath string) (map[string]string, error) {
	return tokenfile.ReadMeta(tokenPath)
}

// SaveTokenMeta reads the current token, merges new metadata, and saves.
// New metadata keys overwrite existing ones.
func SaveTokenMeta(tokenPath string, meta map[string]string) error {
	return tokenfile.LoadAndMergeMeta(tokenPath, meta)
}
