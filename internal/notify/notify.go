// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers run summaries.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bep/gitmirror/internal/config"
	"github.com/bep/gitmirror/internal/lib"
	"github.com/wneessen/go-mail"
)

// New returns an email notifier when cfg has a recipient and an SMTP host, else a no-op.
func New(cfg config.Notify, logger *slog.Logger) lib.Notifier {
	if !cfg.Enabled() {
		return Nop{}
	}
	return &Email{Config: cfg, Logger: logger}
}

// Nop discards summaries.
type Nop struct{}

func (Nop) Notify(context.Context, *lib.RunSummary) error { return nil }

// Email sends the rendered summary over SMTP with mandatory STARTTLS.
type Email struct {
	Config config.Notify
	Logger *slog.Logger

	// send delivers the message; tests replace it.
	send func(ctx context.Context, msg *mail.Msg) error
}

func (e *Email) Notify(ctx context.Context, s *lib.RunSummary) error {
	msg, err := e.Message(s)
	if err != nil {
		return err
	}
	send := e.send
	if send == nil {
		send = e.dialAndSend
	}
	if err := send(ctx, msg); err != nil {
		return fmt.Errorf("send email to %s: %w", e.Config.To, err)
	}
	if e.Logger != nil {
		e.Logger.Info("notification sent", "to", e.Config.To, "run_id", s.RunID)
	}
	return nil
}

// Message builds the email for s.
func (e *Email) Message(s *lib.RunSummary) (*mail.Msg, error) {
	from := e.Config.From
	if from == "" {
		from = e.Config.SMTPUser
	}
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := m.To(e.Config.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", e.Config.To, err)
	}
	m.Subject(s.Subject())
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, s.Render())
	return m, nil
}

func (e *Email) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(e.Config.SMTPPort),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if e.Config.SMTPUser != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.Config.SMTPUser),
			mail.WithPassword(e.Config.SMTPPassword),
		)
	}
	client, err := mail.NewClient(e.Config.SMTPHost, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
