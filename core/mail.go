package core

import (
	"bytes"
	"encoding/base64"
	htmltmpl "html/template"
	"io"
	"io/fs"
	"net/http"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/smarthomecloud/backend/fs"
)

const emailTemplatesDir = "templates/email"

type (
	Attachment struct {
		Content     string // base64 encoded
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		Tag         string // groups messages in the provider's stats; defaults to TemplateName
		BodyStr     string // simple text/plain, non-templated content
		Attachments []Attachment

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	// ContextData is what email templates are executed with.
	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

// executor is satisfied by both text & html templates.
type executor interface {
	Execute(w io.Writer, data interface{}) error
}

type templatePair struct {
	text *texttmpl.Template
	html *htmltmpl.Template
}

// emailTemplates holds the parsed templates, keyed by name.
var emailTemplates struct {
	sync.RWMutex
	byName      map[string]*templatePair
	frontendURL string
}

func lookupTemplates(name string) (*templatePair, string) {
	emailTemplates.RLock()
	defer emailTemplates.RUnlock()
	return emailTemplates.byName[name], emailTemplates.frontendURL
}

func execute(tmpl executor, data ContextData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render fills TextContent & HTMLContent from BodyStr or the named template.
// A message without a known template keeps whatever content it already has.
func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
	}
	if m.TemplateName == "" {
		return nil
	}
	pair, frontendURL := lookupTemplates(m.TemplateName)
	if pair == nil {
		return nil
	}
	data := ContextData{FrontendBaseURL: frontendURL, Data: m.TemplateData}

	var err error
	if pair.text != nil && m.BodyStr == "" {
		if m.TextContent, err = execute(pair.text, data); err != nil {
			return errors.Wrapf(err, "rendering %s.txt", m.TemplateName)
		}
	}
	if pair.html != nil {
		if m.HTMLContent, err = execute(pair.html, data); err != nil {
			return errors.Wrapf(err, "rendering %s.gohtml", m.TemplateName)
		}
	}
	return nil
}

// Attach reads r fully & adds it as a base64 encoded attachment.
// The content type is sniffed when ct is not given.
func (m *EmailMessage) Attach(r io.Reader, filename string, ct ...string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "reading attachment %q", filename)
	}
	contentType := http.DetectContentType(content)
	if len(ct) > 0 {
		contentType = ct[0]
	}
	m.Attachments = append(m.Attachments, Attachment{
		Content:     base64.StdEncoding.EncodeToString(content),
		ContentType: contentType,
		Filename:    filename,
	})
	return nil
}

func (m *EmailMessage) Category() string {
	if m.Tag != "" {
		return m.Tag
	}
	return m.TemplateName
}

func (m *EmailMessage) HasRecipients() bool  { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool     { return (m.TextContent != "") || (m.HTMLContent != "") }
func (m *EmailMessage) HasAttachments() bool { return len(m.Attachments) > 0 }

// Deliverable reports whether the message has someone to go to & something to say.
func (m *EmailMessage) Deliverable() bool {
	return m.HasRecipients() && (m.HasContent() || m.HasAttachments())
}

// ParseEmailTemplates parses the embedded email templates.
// Files starting with "_" are base layouts; others are templates named after the file without its extension.
// Broken templates are logged & skipped.
func ParseEmailTemplates(conf *Config, logger Logger) {
	strict := conf.Debug || conf.TestMode
	byName := make(map[string]*templatePair)

	fps, err := fs.Glob(appfs.FS, path.Join(emailTemplatesDir, "*"))
	if err != nil {
		logger.Error("listing email templates", errors.WithStack(err))
	}

	for _, fp := range fps {
		fname := path.Base(fp)
		if strings.HasPrefix(fname, "_") {
			continue
		}
		ext := path.Ext(fname)
		name := strings.TrimSuffix(fname, ext)
		pair := byName[name]
		if pair == nil {
			pair = new(templatePair)
		}

		switch ext {
		case ".txt":
			err = parseText(pair, fp, strict)
		case ".gohtml":
			err = parseHTML(pair, fp, strict)
		default:
			continue
		}
		if err != nil {
			logger.Error("parsing email template "+fname, errors.Wrap(err, fname))
			continue
		}
		byName[name] = pair
	}

	emailTemplates.Lock()
	emailTemplates.byName = byName
	emailTemplates.frontendURL = conf.FrontendBaseURL
	emailTemplates.Unlock()
}

func parseText(pair *templatePair, fp string, strict bool) error {
	tmpl, err := texttmpl.ParseFS(appfs.FS, path.Join(emailTemplatesDir, "_base.txt"), fp)
	if err != nil {
		return err
	}
	if strict {
		tmpl = tmpl.Option("missingkey=error")
	}
	pair.text = tmpl
	return nil
}

func parseHTML(pair *templatePair, fp string, strict bool) error {
	tmpl, err := htmltmpl.ParseFS(appfs.FS, path.Join(emailTemplatesDir, "_base.gohtml"), fp)
	if err != nil {
		return err
	}
	if strict {
		tmpl = tmpl.Option("missingkey=error")
	}
	pair.html = tmpl
	return nil
}
