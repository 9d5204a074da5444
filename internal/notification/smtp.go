package notification

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"go.uber.org/zap"
)

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// SMTPDispatcher sends alerts through an SMTP relay with PLAIN auth.
type SMTPDispatcher struct {
	cfg        SMTPConfig
	systemName string
	retry      RetryConfig
	logger     *zap.Logger
	send       func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPDispatcher(cfg SMTPConfig, systemName string, retry RetryConfig, logger *zap.Logger) (*SMTPDispatcher, error) {
	if cfg.Host == "" || cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("smtp host, from and to are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = zap.L()
	}
	return &SMTPDispatcher{
		cfg:        cfg,
		systemName: systemName,
		retry:      retry,
		logger:     logger.Named("smtp"),
		send:       smtp.SendMail,
	}, nil
}

func (d *SMTPDispatcher) SendAlert(ctx context.Context, alert Alert) error {
	email, err := NewAlertEmail(alert, d.cfg.From, d.cfg.To, d.systemName)
	if err != nil {
		return err
	}
	msg, err := BuildMIMEMessage(email)
	if err != nil {
		return fmt.Errorf("failed to build MIME message: %w", err)
	}

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	err = SendWithRetry(ctx, d.retry, func(context.Context) error {
		return d.send(addr, auth, d.cfg.From, []string{d.cfg.To}, msg)
	})
	if err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	d.logger.Info("Alert sent", zap.String("to", d.cfg.To), zap.String("subject", email.Subject))
	return nil
}
