package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"golang.org/x/sync/errgroup"

	"github.com/smarthomecloud/backend/core"
)

const (
	maxConcurrentSends = 4
	sendTimeout        = 30 * time.Second
)

var setSendTimeout sync.Once

// sendClient is *sendgrid.Client. Its Send stores the body on the client,
// so every message gets a fresh one.
type sendClient interface {
	Send(email *sgmail.SGMailV3) (*rest.Response, error)
}

type sendgridService struct {
	newClient  func() sendClient
	from       *sgmail.Email
	subjPrefix string
	sandbox    bool
	logger     core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

// NewSendgridService sends through the SendGrid v3 API. In test mode SendGrid validates without delivering.
func NewSendgridService(conf *core.Config, logger core.Logger) core.EmailService {
	from := conf.DefaultFromEmail()
	apiKey := conf.SendgridApiKey
	setSendTimeout.Do(func() {
		// every sendgrid request goes through this client
		if sendgrid.DefaultClient.HTTPClient.Timeout == 0 {
			sendgrid.DefaultClient.HTTPClient.Timeout = sendTimeout
		}
	})
	return &sendgridService{
		newClient:  func() sendClient { return sendgrid.NewSendClient(apiKey) },
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		sandbox:    conf.TestMode,
		logger:     logger,
	}
}

// SendMessages renders & sends in the background, at most maxConcurrentSends at a time.
func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	go func() {
		var g errgroup.Group
		g.SetLimit(maxConcurrentSends)
		for _, msg := range messages {
			msg := msg
			g.Go(func() error {
				if err := msg.Render(); err != nil {
					return errors.Wrapf(err, "rendering %q email", msg.TemplateName)
				}
				if !msg.Deliverable() {
					return nil
				}
				return svc.send(*msg)
			})
		}
		if err := g.Wait(); err != nil {
			svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
		}
	}()
}

func (svc *sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgEmail(to))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(sgEmail(cc))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(sgEmail(bcc))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)

	// text/plain must come first; empty parts are rejected
	if msg.TextContent != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	}
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}

	for _, at := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     at.Content,
			Type:        at.ContentType,
			Filename:    at.Filename,
			Disposition: "attachment",
		})
	}

	if category := msg.Category(); category != "" {
		m.AddCategories(category)
	}
	if svc.sandbox {
		m.SetMailSettings(sgmail.NewMailSettings().SetSandboxMode(sgmail.NewSetting(true)))
	}
	return m
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func (svc *sendgridService) send(msg core.EmailMessage) error {
	res, err := svc.newClient().Send(svc.prepare(msg))
	if err != nil {
		return errors.Wrapf(err, "sending %q email", msg.Subject)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sending %q email: status %d: %s", msg.Subject, res.StatusCode, res.Body)
	}
	svc.logger.Debug(fmt.Sprintf("sent %q email to %d recipient(s)", msg.Subject, len(msg.To)+len(msg.Cc)+len(msg.Bcc)))
	return nil
}
