// Package notify mails the blog owner about new comments.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var sent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bloog",
	Subsystem: "notify",
	Name:      "messages_total",
	Help:      "Comment notifications by result",
}, []string{"result"})

// CommentEvent describes a comment that was just posted.
type CommentEvent struct {
	ArticleTitle string
	ArticleURL   string
	CommentID    int
	Name         string
	Email        string
	Homepage     string
	Body         string
	Published    time.Time
}

// Notifier is told about every accepted comment. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, ev CommentEvent)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, CommentEvent) {}

// SendFunc has the signature of smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPConfig struct {
	Addr     string
	User     string
	Password string
	From     string
	To       string
	// QueueSize bounds pending notifications, 64 when zero.
	QueueSize int
}

// SMTPNotifier queues events and mails them from a single worker started
// with Run.
type SMTPNotifier struct {
	Config SMTPConfig
	Logger *logrus.Logger
	Send   SendFunc

	queue chan CommentEvent
}

func NewSMTPNotifier(cfg SMTPConfig, logger *logrus.Logger) *SMTPNotifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.From == "" {
		cfg.From = cfg.To
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SMTPNotifier{
		Config: cfg,
		Logger: logger,
		Send:   smtp.SendMail,
		queue:  make(chan CommentEvent, cfg.QueueSize),
	}
}

// Notify queues ev, dropping it when the queue is full.
func (n *SMTPNotifier) Notify(ctx context.Context, ev CommentEvent) {
	select {
	case n.queue <- ev:
	default:
		sent.WithLabelValues("dropped").Inc()
		n.Logger.WithFields(logrus.Fields{
			"article":    ev.ArticleTitle,
			"comment_id": ev.CommentID,
		}).Warn("notification queue full, dropping comment notification")
	}
}

// Run sends queued notifications until ctx is done.
func (n *SMTPNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			n.deliver(ev)
		}
	}
}

func (n *SMTPNotifier) deliver(ev CommentEvent) {
	var auth smtp.Auth
	if n.Config.User != "" {
		host, _, err := net.SplitHostPort(n.Config.Addr)
		if err != nil {
			host = n.Config.Addr
		}
		auth = smtp.PlainAuth("", n.Config.User, n.Config.Password, host)
	}
	msg := Message(n.Config.From, n.Config.To, ev)
	if err := n.Send(n.Config.Addr, auth, n.Config.From, []string{n.Config.To}, msg); err != nil {
		sent.WithLabelValues("error").Inc()
		n.Logger.WithFields(logrus.Fields{
			"article":    ev.ArticleTitle,
			"comment_id": ev.CommentID,
			"error":      err.Error(),
		}).Error("send comment notification")
		return
	}
	sent.WithLabelValues("sent").Inc()
}

// Message renders the notification mail for ev.
func Message(from, to string, ev CommentEvent) []byte {
	name := ev.Name
	if name == "" {
		name = "Anonymous"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", "New comment on "+ev.ArticleTitle))
	fmt.Fprintf(&b, "Date: %s\r\n", ev.Published.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "%s commented on %s\r\n", name, ev.ArticleURL)
	if ev.Email != "" {
		fmt.Fprintf(&b, "Email: %s\r\n", ev.Email)
	}
	if ev.Homepage != "" {
		fmt.Fprintf(&b, "Homepage: %s\r\n", ev.Homepage)
	}
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(ev.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
