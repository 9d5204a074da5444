package notification

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const defaultSendTimeout = 30 * time.Second

// GmailConfig holds Gmail API OAuth2 settings. TokenPath points at a JSON
// oauth2.Token obtained out of band; it is refreshed automatically.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	TokenPath    string
	FromEmail    string
	ToEmail      string
}

// GmailDispatcher sends alerts through the Gmail API.
type GmailDispatcher struct {
	cfg        GmailConfig
	svc        *gmail.Service
	systemName string
	retry      RetryConfig
	logger     *zap.Logger
}

func NewGmailDispatcher(ctx context.Context, cfg GmailConfig, systemName string, retry RetryConfig, logger *zap.Logger) (*GmailDispatcher, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("Gmail OAuth2 ClientID/ClientSecret are required")
	}
	if cfg.ToEmail == "" {
		return nil, fmt.Errorf("notification email address (ToEmail) is required")
	}

	token, err := loadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	httpClient := oauthCfg.Client(ctx, token)
	httpClient.Timeout = defaultSendTimeout

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to init Gmail service: %w", err)
	}

	if logger == nil {
		logger = zap.L()
	}
	return &GmailDispatcher{
		cfg:        cfg,
		svc:        svc,
		systemName: systemName,
		retry:      retry,
		logger:     logger.Named("gmail"),
	}, nil
}

func (d *GmailDispatcher) SendAlert(ctx context.Context, alert Alert) error {
	email, err := NewAlertEmail(alert, d.fromAddr(), d.cfg.ToEmail, d.systemName)
	if err != nil {
		return err
	}
	msg, err := BuildMIMEMessage(email)
	if err != nil {
		return fmt.Errorf("failed to build MIME message: %w", err)
	}

	if err := SendWithRetry(ctx, d.retry, func(ctx context.Context) error {
		return d.sendRaw(ctx, msg)
	}); err != nil {
		return err
	}

	d.logger.Info("Alert sent", zap.String("to", d.cfg.ToEmail), zap.String("subject", email.Subject))
	return nil
}

// fromAddr falls back to the authenticated account.
func (d *GmailDispatcher) fromAddr() string {
	if addr := strings.TrimSpace(d.cfg.FromEmail); addr != "" {
		return addr
	}
	return "me"
}

func (d *GmailDispatcher) sendRaw(ctx context.Context, raw []byte) error {
	encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)
	_, err := d.svc.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail send failed: %w", err)
	}
	return nil
}

func loadToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, fmt.Errorf("gmail token path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gmail token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse gmail token: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("invalid token: missing access and refresh tokens")
	}
	return &token, nil
}
