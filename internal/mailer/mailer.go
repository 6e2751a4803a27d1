package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/antonminaichev/perfume-checkout/internal/logger"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"go.uber.org/zap"
)

var ErrNoRecipient = errors.New("order has no customer email")

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers order confirmations over SMTP with PLAIN auth. The whole
// exchange is bounded by the caller's context.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	s := &SMTPSender{cfg: cfg}
	s.send = s.deliver
	return s
}

func (s *SMTPSender) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	if o.Customer.Email == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	msg := Compose(s.cfg.From, o)

	done := make(chan error, 1)
	go func() {
		done <- s.send(ctx, addr, auth, s.cfg.From, []string{o.Customer.Email}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send confirmation for %s: %w", o.Number, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send confirmation for %s: %w", o.Number, ctx.Err())
	}
}

// deliver is smtp.SendMail with a context-aware dial and a connection deadline.
func (s *SMTPSender) deliver(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return err
		}
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return err
		}
	}
	if a != nil {
		if err := c.Auth(a); err != nil {
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

// LogSender only logs; used when no SMTP host is configured.
type LogSender struct{}

func (LogSender) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	logger.Log.Info("order confirmation (smtp disabled)",
		zap.String("order_number", o.Number),
		zap.String("email", o.Customer.Email),
	)
	return nil
}

func Compose(from string, o *order.Order) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", o.Customer.Email)
	fmt.Fprintf(&b, "Subject: Order %s confirmed\r\n", o.Number)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")

	name := strings.TrimSpace(o.Customer.Name)
	if name == "" {
		name = "customer"
	}
	fmt.Fprintf(&b, "Dear %s,\r\n\r\nThank you for your order %s. Your payment was received.\r\n\r\n", name, o.Number)
	for _, li := range o.Items {
		label := li.Name
		if label == "" {
			label = li.ProductID
		}
		fmt.Fprintf(&b, "  %d x %s  %s %s\r\n", li.Quantity, label, li.Subtotal().StringFixed(2), o.Currency)
	}
	fmt.Fprintf(&b, "\r\nTotal: %s %s\r\n", o.Total.StringFixed(2), o.Currency)
	if o.PaymentCurrency != "" && o.PaymentCurrency != o.Currency {
		fmt.Fprintf(&b, "Charged: %s %s\r\n", o.PaymentAmount.StringFixed(2), o.PaymentCurrency)
	}
	return b.Bytes()
}
