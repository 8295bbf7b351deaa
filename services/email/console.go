package emailsvc

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
)

// outbox records what the console services delivered.
var outbox struct {
	sync.Mutex
	sent []core.EmailMessage
}

type consoleService struct {
	from       mail.Address
	subjPrefix string
	silent     bool
	blocking   bool
	logger     core.Logger
}

var _ core.EmailService = (*consoleService)(nil)

// NewConsoleService prints emails through the logger instead of sending them.
func NewConsoleService(conf *core.Config, logger core.Logger) core.EmailService {
	return newConsoleService(conf, logger)
}

// NewConsoleServiceMock sends synchronously and silently; see LastSentMessages.
func NewConsoleServiceMock(conf *core.Config, logger core.Logger) core.EmailService {
	svc := newConsoleService(conf, logger)
	svc.silent, svc.blocking = true, true
	return svc
}

func newConsoleService(conf *core.Config, logger core.Logger) *consoleService {
	return &consoleService{
		from:       conf.DefaultFromEmail(),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
	}
}

func (svc *consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if svc.blocking {
			svc.deliver(msg)
			continue
		}
		go svc.deliver(msg)
	}
}

func (svc *consoleService) deliver(msg *core.EmailMessage) {
	if err := msg.Render(); err != nil {
		svc.logger.Error(fmt.Sprintf("rendering %q email: %v", msg.TemplateName, err), err)
		return
	}
	if !msg.Deliverable() {
		return
	}
	raw, err := svc.compose(*msg, time.Now())
	if err != nil {
		svc.logger.Error(fmt.Sprintf("composing %q email: %v", msg.Subject, err), err)
		return
	}
	if !svc.silent {
		svc.logger.Info(raw)
	}
	outbox.Lock()
	outbox.sent = append(outbox.sent, *msg)
	outbox.Unlock()
}

// compose lays the message out as a MIME document: a multipart/alternative
// body, wrapped in multipart/mixed when there are attachments.
func (svc *consoleService) compose(msg core.EmailMessage, date time.Time) (string, error) {
	var body bytes.Buffer
	alt := multipart.NewWriter(&body)
	if msg.TextContent != "" {
		if err := writePart(alt, "text/plain; charset=utf-8", msg.TextContent); err != nil {
			return "", err
		}
	}
	if msg.HTMLContent != "" {
		if err := writePart(alt, "text/html; charset=utf-8", msg.HTMLContent); err != nil {
			return "", err
		}
	}
	if err := alt.Close(); err != nil {
		return "", errors.WithStack(err)
	}
	contentType := "multipart/alternative; boundary=" + alt.Boundary()

	if msg.HasAttachments() {
		var mixedBody bytes.Buffer
		mixed := multipart.NewWriter(&mixedBody)
		if err := writePart(mixed, contentType, body.String()); err != nil {
			return "", err
		}
		for _, at := range msg.Attachments {
			w, err := mixed.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {at.ContentType},
				"Content-Transfer-Encoding": {"base64"},
				"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", at.Filename)},
			})
			if err != nil {
				return "", errors.Wrapf(err, "attaching %s", at.Filename)
			}
			_, _ = w.Write([]byte(at.Content))
		}
		if err := mixed.Close(); err != nil {
			return "", errors.WithStack(err)
		}
		body = mixedBody
		contentType = "multipart/mixed; boundary=" + mixed.Boundary()
	}

	var out strings.Builder
	headers := [][2]string{
		{"From", svc.from.String()},
		{"To", joinAddresses(msg.To)},
		{"Cc", joinAddresses(msg.Cc)},
		{"Bcc", joinAddresses(msg.Bcc)},
		{"Subject", svc.subjPrefix + msg.Subject},
		{"Date", date.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", contentType},
	}
	for _, h := range headers {
		if h[1] != "" {
			out.WriteString(h[0] + ": " + h[1] + "\r\n")
		}
	}
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.String(), nil
}

func writePart(w *multipart.Writer, contentType, content string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {contentType}})
	if err != nil {
		return errors.Wrapf(err, "creating %s part", contentType)
	}
	_, err = part.Write([]byte(content))
	return errors.WithStack(err)
}

func joinAddresses(addrs []mail.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// ResetSentMessages empties the outbox.
func ResetSentMessages() {
	outbox.Lock()
	outbox.sent = nil
	outbox.Unlock()
}

// LastSentMessages returns a copy of the messages sent so far.
func LastSentMessages() []core.EmailMessage {
	outbox.Lock()
	defer outbox.Unlock()
	return append([]core.EmailMessage(nil), outbox.sent...)
}
