package music

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/kjstillabower/drone/internal/config"
)

// Scopes requested during authorization.
var Scopes = []string{
	"playlist-read-collaborative",
	"playlist-read-private",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"user-read-playback-state",
	"user-library-read",
	"streaming",
	"app-remote-control",
}

// SpotifyEndpoint is the Spotify accounts service.
var SpotifyEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.spotify.com/authorize",
	TokenURL: "https://accounts.spotify.com/api/token",
}

const (
	defaultAuthTimeout = 120 * time.Second
	apiTimeout         = 5 * time.Second
	callbackResponse   = "Authentication complete! Proceeding shortly..."
)

// AuthConfig holds the credentials and callback used to authorize playback control.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CallbackURL  string
	Timeout      time.Duration
	SecretsPath  string
	Endpoint     oauth2.Endpoint
}

// Authorizer obtains a Spotify token, from a stored refresh token when possible and
// otherwise through the browser-based authorization code flow.
type Authorizer struct {
	cfg         AuthConfig
	oauth       *oauth2.Config
	openBrowser func(url string) error
	logger      *zap.Logger
}

func NewAuthorizer(cfg AuthConfig, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = config.DefaultSpotifyCallbackURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAuthTimeout
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = SpotifyEndpoint
	}
	return &Authorizer{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       Scopes,
		},
		openBrowser: browser.OpenURL,
		logger:      logger,
	}
}

// Client returns an HTTP client that refreshes its token as needed. ctx must outlive the
// client. A token obtained here is written back to the secrets file.
func (a *Authorizer) Client(ctx context.Context) (*http.Client, error) {
	if a.cfg.ClientID == "" || a.cfg.ClientSecret == "" {
		return nil, errors.New("spotify: client id and secret are required")
	}
	tok, err := a.token(ctx)
	if err != nil {
		return nil, err
	}
	if a.cfg.SecretsPath != "" {
		changed, err := PersistSecrets(a.cfg.SecretsPath, config.SpotifySecrets{
			ClientID:     a.cfg.ClientID,
			ClientSecret: a.cfg.ClientSecret,
			RefreshToken: tok.RefreshToken,
		})
		if err != nil {
			a.logger.Warn("could not save spotify credentials", zap.Error(err))
		} else if changed {
			a.logger.Info("saved spotify credentials", zap.String("path", a.cfg.SecretsPath))
		}
	}
	c := a.oauth.Client(ctx, tok)
	c.Timeout = apiTimeout
	return c, nil
}

func (a *Authorizer) token(ctx context.Context) (*oauth2.Token, error) {
	if a.cfg.RefreshToken != "" {
		tok, err := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: a.cfg.RefreshToken}).Token()
		if err == nil {
			return tok, nil
		}
		a.logger.Warn("refresh token may be expired", zap.Error(err))
	}

	code, err := a.authorize(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("spotify: exchange authorization code: %w", err)
	}
	return tok, nil
}

// authorize opens the consent page and waits for the redirect carrying the code. The
// callback listener runs until a code arrives or the timeout expires.
func (a *Authorizer) authorize(ctx context.Context) (string, error) {
	callback, err := url.Parse(a.cfg.CallbackURL)
	if err != nil {
		return "", fmt.Errorf("spotify: parse callback url: %w", err)
	}
	ln, err := net.Listen("tcp", callback.Host)
	if err != nil {
		return "", fmt.Errorf("spotify: listen for callback: %w", err)
	}

	state := uuid.NewString()
	codes := make(chan string, 1)
	srv := &http.Server{
		Handler:           callbackHandler(callback.Path, state, codes, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("spotify callback listener failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		wg.Wait()
	}()

	authURL := a.oauth.AuthCodeURL(state)
	a.logger.Info("Authenticating to Spotify. A browser window may open.", zap.String("url", authURL))
	if err := a.openBrowser(authURL); err != nil {
		a.logger.Warn("could not open a browser; visit the url manually", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	select {
	case code := <-codes:
		return code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("spotify: waiting for authorization: %w", ctx.Err())
	}
}

func callbackHandler(path, state string, codes chan<- string, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("spotify callback request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		if r.Method != http.MethodGet || r.URL.Path != path {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code: "+q.Get("error"), http.StatusBadRequest)
			return
		}
		select {
		case codes <- code:
		default:
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(callbackResponse))
	})
}

// PersistSecrets stores s as the spotify section of the secrets file at path, keeping
// the other sections. It reports whether the file changed.
func PersistSecrets(path string, s config.SpotifySecrets) (bool, error) {
	sec, err := config.ReadSecrets(path)
	if err != nil {
		return false, err
	}
	if sec.Spotify == s {
		return false, nil
	}
	sec.Spotify = s
	if err := config.WriteSecrets(path, sec); err != nil {
		return false, err
	}
	return true, nil
}

// New authorizes against Spotify and returns a Handler driving the user's player.
func New(ctx context.Context, cfg AuthConfig, logger *zap.Logger) (*Handler, error) {
	httpClient, err := NewAuthorizer(cfg, logger).Client(ctx)
	if err != nil {
		return nil, err
	}
	return NewHandler(NewSpotifyPlayer(httpClient, ""), logger), nil
}
