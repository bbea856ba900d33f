// CLAUDE:SUMMARY SMTP backend on go-mail with provider presets (163, qq, gmail, outlook, yahoo), implicit SSL or STARTTLS.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
)

// Preset is the server side of a well-known mail provider.
type Preset struct {
	Host     string
	Port     int
	SSL      bool
	StartTLS bool
}

// Presets maps a provider name to its submission server.
var Presets = map[string]Preset{
	"163":     {Host: "smtp.163.com", Port: 465, SSL: true},
	"qq":      {Host: "smtp.qq.com", Port: 587, StartTLS: true},
	"gmail":   {Host: "smtp.gmail.com", Port: 587, StartTLS: true},
	"outlook": {Host: "smtp-mail.outlook.com", Port: 587, StartTLS: true},
	"yahoo":   {Host: "smtp.mail.yahoo.com", Port: 587, StartTLS: true},
}

// SMTPConfig configures the SMTP backend. Empty Host/Port are filled from
// the Provider preset.
type SMTPConfig struct {
	Provider string
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From     string
	SSL      bool
	StartTLS bool
	// Timeout bounds dial and delivery. Default: 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// ApplyPreset fills Host, Port and the TLS mode from Provider when Host is
// empty. Unknown providers are left untouched.
func (c *SMTPConfig) ApplyPreset() {
	p, ok := Presets[strings.ToLower(c.Provider)]
	if !ok || c.Host != "" {
		return
	}
	c.Host = p.Host
	if c.Port == 0 {
		c.Port = p.Port
	}
	c.SSL = p.SSL
	c.StartTLS = p.StartTLS
}

// Complete reports whether the configuration can deliver mail.
func (c SMTPConfig) Complete() bool {
	return c.Host != "" && c.Port > 0 && c.Username != "" && c.Password != ""
}

// SMTP sends mail through one authenticated submission server.
type SMTP struct {
	cfg SMTPConfig
	log *slog.Logger
}

// NewSMTP builds the backend. It returns ErrIncompleteConfig when the server
// or credentials are missing.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	cfg.ApplyPreset()
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.Complete() {
		return nil, ErrIncompleteConfig
	}
	return &SMTP{cfg: cfg, log: cfg.Logger}, nil
}

// Send delivers msg to msg.Recipient.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("notify: smtp: no recipient: %w", ErrIncompleteConfig)
	}

	m, err := s.build(msg)
	if err != nil {
		return &SendError{Backend: "smtp", Recipient: msg.Recipient, Cause: err}
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return &SendError{Backend: "smtp", Recipient: msg.Recipient, Cause: err}
	}

	start := time.Now()
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		s.log.Warn("notify: smtp delivery failed", "host", s.cfg.Host, "to", msg.Recipient, "error", err)
		return &SendError{Backend: "smtp", Recipient: msg.Recipient, Cause: err}
	}
	s.log.Info("notify: mail sent", "to", msg.Recipient, "subject", msg.Subject,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *SMTP) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("from %q: %w", s.cfg.From, err)
	}
	if err := m.To(msg.Recipient); err != nil {
		return nil, fmt.Errorf("to %q: %w", msg.Recipient, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageIDWithValue(uuid.Must(uuid.NewV7()).String() + "@feedwatch")

	text := msg.Text
	if msg.Link != "" && !strings.Contains(text, msg.Link) {
		text += "\n\n" + msg.Link
	}
	m.SetBodyString(mail.TypeTextPlain, text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

func (s *SMTP) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTimeout(s.cfg.Timeout),
	}
	switch {
	case s.cfg.SSL:
		opts = append(opts, mail.WithSSL())
	case s.cfg.StartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	return opts
}
