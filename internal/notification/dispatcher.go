// Package notification sends alerts for finished motion clips.
package notification

import (
	"context"
	"errors"
	"time"
)

// Alert is everything a dispatcher needs to describe a finished clip.
type Alert struct {
	Labels             []string
	Summary            string
	Timestamp          time.Time
	ClipName           string
	PreviewImagePath   string
	AnnotatedImagePath string
}

// Dispatcher delivers an alert.
type Dispatcher interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// Multi sends to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) SendAlert(ctx context.Context, alert Alert) error {
	var errs []error
	for _, d := range m {
		if err := d.SendAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards alerts.
type Nop struct{}

func (Nop) SendAlert(context.Context, Alert) error { return nil }
