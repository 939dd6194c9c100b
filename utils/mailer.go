package utils

import (
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"lexicard-progression/config"
)

// Mail templates, keyed by name. The only template today is the skill-tree
// completion certificate mail.
var mailTemplates = map[string]*template.Template{
	"skill-tree-certificate": template.Must(template.New("skill-tree-certificate").Parse(
		"Hi {{.DisplayName}},\r\n\r\n" +
			"Congratulations, you completed the \"{{.TreeName}}\" skill tree ({{.Language}})!\r\n" +
			"You earned {{.CompletionXP}} XP and the \"{{.BadgeName}}\" badge.\r\n\r\n" +
			"Your certificate is ready for download:\r\n{{.CertificateURL}}\r\n\r\n" +
			"Keep it up,\r\nThe LexiCard team\r\n")),
}

var mailSubjects = map[string]string{
	"skill-tree-certificate": "Your LexiCard skill tree certificate",
}

// SendTemplatedEmail renders the named template with data and sends it.
func SendTemplatedEmail(to, templateName string, data any) error {
	tpl, ok := mailTemplates[templateName]
	if !ok {
		return fmt.Errorf("unknown mail template %q", templateName)
	}
	var body strings.Builder
	if err := tpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render mail template %q: %w", templateName, err)
	}
	return SendMail(to, mailSubjects[templateName], body.String())
}

// SendMail sends a plain text email using SMTP settings from config.
func SendMail(to, subject, body string) error {
	cfg := config.Get()
	if cfg.SMTPHost == "" || cfg.SMTPFrom == "" {
		return fmt.Errorf("smtp not configured")
	}
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))
	auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)

	fromName := cfg.SMTPFromName
	if fromName == "" {
		fromName = "LexiCard"
	}
	fromHeader := fmt.Sprintf("%s <%s>", encodeHeader(fromName), cfg.SMTPFrom)

	headers := map[string]string{
		"From":         fromHeader,
		"To":           to,
		"Subject":      encodeHeader(subject),
		"MIME-Version": "1.0",
		"Content-Type": "text/plain; charset=UTF-8",
	}
	var msg strings.Builder
	for k, v := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if cfg.SMTPTLS {
		// STARTTLS with timeouts
		d := net.Dialer{Timeout: 5 * time.Second}
		conn, err := d.Dial("tcp", addr)
		if err != nil {
			return err
		}
		_ = conn.SetDeadline(time.Now().Add(15 * time.Second))
		host, _, _ := net.SplitHostPort(addr)
		c, err := smtp.NewClient(conn, host)
		if err != nil {
			_ = conn.Close()
			return err
		}
		defer c.Close()
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return err
			}
		}
		if cfg.SMTPUsername != "" {
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
		if err := c.Mail(cfg.SMTPFrom); err != nil {
			return err
		}
		if err := c.Rcpt(to); err != nil {
			return err
		}
		wc, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := wc.Write([]byte(msg.String())); err != nil {
			_ = wc.Close()
			return err
		}
		return wc.Close()
	}

	// Plain SMTP without TLS (not recommended)
	return smtp.SendMail(addr, auth, cfg.SMTPFrom, []string{to}, []byte(msg.String()))
}

// encodeHeader RFC2047-encodes a header value when it contains non-ASCII runes.
func encodeHeader(s string) string {
	return mime.QEncoding.Encode("UTF-8", s)
}
