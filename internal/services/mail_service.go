package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"valinemail/internal/config"
)

// Message is a single rendered notification.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender is the outbound mail channel. Send makes exactly one transmission attempt.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Verify(ctx context.Context) error
}

type smtpEndpoint struct {
	host   string
	port   int
	secure bool
}

// wellKnownServices 常用邮箱服务商，配置 SMTP_SERVICE 时免去填写 host/port
var wellKnownServices = map[string]smtpEndpoint{
	"gmail":    {"smtp.gmail.com", 465, true},
	"qq":       {"smtp.qq.com", 465, true},
	"qqex":     {"smtp.exmail.qq.com", 465, true},
	"163":      {"smtp.163.com", 465, true},
	"126":      {"smtp.126.com", 465, true},
	"aliyun":   {"smtp.aliyun.com", 465, true},
	"yahoo":    {"smtp.mail.yahoo.com", 465, true},
	"zoho":     {"smtp.zoho.com", 465, true},
	"mailgun":  {"smtp.mailgun.org", 465, true},
	"outlook":  {"smtp-mail.outlook.com", 587, false},
	"hotmail":  {"smtp-mail.outlook.com", 587, false},
	"icloud":   {"smtp.mail.me.com", 587, false},
	"sendgrid": {"smtp.sendgrid.net", 587, false},
}

func resolveEndpoint(cfg config.SMTPConfig) (smtpEndpoint, error) {
	if cfg.Service != "" {
		key := strings.ToLower(strings.NewReplacer(" ", "", "-", "", "_", "").Replace(cfg.Service))
		ep, ok := wellKnownServices[key]
		if !ok {
			return smtpEndpoint{}, fmt.Errorf("unknown SMTP service %q", cfg.Service)
		}
		return ep, nil
	}
	return smtpEndpoint{host: cfg.Host, port: cfg.Port, secure: cfg.Secure}, nil
}

type MailService struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	// configErr is reported at send time; startup does not validate SMTP settings.
	configErr error
	log       *zap.SugaredLogger
}

func NewMailService(cfg config.SMTPConfig, log *zap.SugaredLogger) *MailService {
	s := &MailService{
		from:     cfg.User,
		fromName: cfg.FromName,
		log:      log.Named("mail"),
	}

	ep, err := resolveEndpoint(cfg)
	if err != nil {
		s.configErr = err
		s.log.Warnw("SMTP transport misconfigured, sends will fail", "error", err)
		return s
	}

	d := gomail.NewDialer(ep.host, ep.port, cfg.User, cfg.Pass)
	d.SSL = ep.secure
	s.dialer = d

	s.log.Infow("Mail transport configured", "host", ep.host, "port", ep.port, "secure", ep.secure, "user", cfg.User)
	return s
}

func (s *MailService) newMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}
	return m
}

func (s *MailService) Send(ctx context.Context, msg Message) error {
	if s.configErr != nil {
		return s.configErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.newMessage(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	s.log.Debugw("Email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Verify 连接并认证 SMTP 服务器，用于检查配置是否正确
func (s *MailService) Verify(ctx context.Context) error {
	if s.configErr != nil {
		return s.configErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("verify smtp %s:%d: %w", s.dialer.Host, s.dialer.Port, err)
	}
	return conn.Close()
}
