package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/thermalgait/internal/types"
)

const inlineImageID = "gei_image"

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	UseTLS      bool
	Recipients  []string
	FrontendURL string
	Timeout     time.Duration
}

// SMTP sends alerts as e-mail with the energy image inline.
type SMTP struct {
	cfg    SMTPConfig
	logger *zap.Logger
	// send delivers a rendered message; replaced in tests.
	send func(ctx context.Context, from string, to []string, msg []byte) error
}

// NewSMTP builds a mail notifier.
func NewSMTP(cfg SMTPConfig, logger *zap.Logger) *SMTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		cfg.From = "no-reply@localhost"
	}
	s := &SMTP{cfg: cfg, logger: logger}
	s.send = s.deliver
	return s
}

func (s *SMTP) recipients() []string {
	var out []string
	for _, r := range s.cfg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// NotifyThreat e-mails every recipient. With no recipients it does nothing.
func (s *SMTP) NotifyThreat(ctx context.Context, t Threat) error {
	to := s.recipients()
	if len(to) == 0 {
		s.logger.Debug("Alert email skipped: no recipients configured")
		return nil
	}
	if s.cfg.Host == "" || s.cfg.Port == 0 {
		return fmt.Errorf("%w: SMTP server not configured", types.ErrNotificationDelivery)
	}

	msg := BuildMessage(t, s.cfg.FrontendURL)
	var image []byte
	if t.EnergyImagePath != "" {
		data, err := os.ReadFile(t.EnergyImagePath)
		if err != nil {
			s.logger.Warn("Failed to attach energy image", zap.String("path", t.EnergyImagePath), zap.Error(err))
		} else {
			image = data
		}
	}
	raw, err := compose(s.cfg.From, to, msg, filepath.Base(t.EnergyImagePath), image)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNotificationDelivery, err)
	}
	if err := s.send(ctx, s.cfg.From, to, raw); err != nil {
		return fmt.Errorf("%w: %v", types.ErrNotificationDelivery, err)
	}
	s.logger.Info("Threat alert sent", zap.String("video", t.VideoName), zap.Int("recipients", len(to)))
	return nil
}

// compose renders a MIME message. With an image it is multipart/related
// (HTML body plus the inline PNG); otherwise plain text.
func compose(from string, to []string, m Message, imageName string, image []byte) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from)
	header("To", strings.Join(to, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")

	if image == nil {
		header("Content-Type", "text/plain; charset=utf-8")
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		return append(buf.Bytes(), qp(m.Text)...), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", fmt.Sprintf("multipart/related; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(qp(m.HTML)); err != nil {
		return nil, err
	}

	part, err = mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType("image/png", map[string]string{"name": imageName})},
		"Content-Transfer-Encoding": {"base64"},
		"Content-ID":                {"<" + inlineImageID + ">"},
		"Content-Disposition":       {mime.FormatMediaType("inline", map[string]string{"filename": imageName})},
	})
	if err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString(image)
	for len(enc) > 76 {
		if _, err := part.Write([]byte(enc[:76] + "\r\n")); err != nil {
			return nil, err
		}
		enc = enc[76:]
	}
	if _, err := part.Write([]byte(enc + "\r\n")); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deliver speaks SMTP to the configured server, upgrading with STARTTLS
// when enabled and authenticating when a username is set.
func (s *SMTP) deliver(ctx context.Context, from string, to []string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if s.cfg.UseTLS {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return err
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func qp(s string) []byte {
	var b bytes.Buffer
	w := quotedprintable.NewWriter(&b)
	_, _ = w.Write([]byte(s))
	_ = w.Close()
	return b.Bytes()
}
