package config

import (
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

type validator struct{ errs []error }

func (v *validator) addError(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func validateNotification(v *validator, n NotificationConfig) {
	if n.SMTP.Enabled {
		if n.SMTP.Host == "" {
			v.addError("notification.smtp.host is required when enabled")
		} else if !isValidHostname(n.SMTP.Host) {
			v.addError("invalid notification.smtp.host: %s", n.SMTP.Host)
		}
		if n.SMTP.Port <= 0 || n.SMTP.Port > 65535 {
			v.addError("invalid notification.smtp.port: %d", n.SMTP.Port)
		}
		if !isValidEmail(n.SMTP.To) {
			v.addError("invalid notification.smtp.to: %q", n.SMTP.To)
		}
		if n.SMTP.From != "" && !isValidEmail(n.SMTP.From) {
			v.addError("invalid notification.smtp.from: %q", n.SMTP.From)
		}
	}
	if n.Gmail.Enabled {
		if n.Gmail.ClientID == "" || n.Gmail.ClientSecret == "" {
			v.addError("notification.gmail requires client_id and client_secret")
		}
		if !isValidEmail(n.Gmail.To) {
			v.addError("invalid notification.gmail.to: %q", n.Gmail.To)
		}
	}
	if n.Retry.MaxAttempts < 1 {
		v.addError("notification.retry.max_attempts must be at least 1")
	}
}

func validateDetection(v *validator, d DetectionConfig) {
	if !isValidURL(d.ServiceURL) {
		v.addError("invalid detection.service_url: %q", d.ServiceURL)
	}
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		v.addError("detection.confidence_threshold must be within [0, 1]")
	}
}

func validateAPI(v *validator, a APIConfig) {
	_, port, err := net.SplitHostPort(a.Addr)
	if err != nil {
		v.addError("invalid api.addr %q: %v", a.Addr, err)
		return
	}
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		v.addError("invalid port in api.addr: %s", port)
	}
	if a.RateLimit.RequestsPerSecond <= 0 || a.RateLimit.Burst <= 0 {
		v.addError("api.rate_limit values must be positive")
	}
}

func isValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isValidURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

var hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	if net.ParseIP(hostname) != nil {
		return true
	}
	for _, l := range strings.Split(hostname, ".") {
		if !hostnameLabel.MatchString(l) {
			return false
		}
	}
	return true
}
