package core

import (
	"bytes"
	"encoding/base64"
	htmltmpl "html/template"
	"io"
	"log"
	"net/http"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"sync"
	texttmpl "text/template"
)

type (
	Attachment struct {
		Content     *bytes.Buffer // base64-encoded
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		BodyStr     string // simple text/plain, non-templated content
		Attachments []Attachment

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

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

// tmplPair holds the text and html renderings of one named email template.
// Either half may be nil when the file does not exist.
type tmplPair struct {
	text *texttmpl.Template
	html *htmltmpl.Template
}

var (
	emailTemplates map[string]tmplPair
	tmplInit       sync.Once
)

// Render fills TextContent and HTMLContent from BodyStr or the named
// template. Messages with neither stay empty and are dropped by senders.
func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	}
	if m.TemplateName == "" {
		return nil
	}
	tmplInit.Do(loadEmailTemplates)

	pair, ok := emailTemplates[m.TemplateName]
	if !ok {
		return nil
	}
	data := ContextData{FrontendBaseURL: Conf.FrontendBaseURL, Data: m.TemplateData}
	if pair.text != nil {
		var buff bytes.Buffer
		if err := pair.text.Execute(&buff, data); err != nil {
			return err
		}
		m.TextContent = buff.String()
	}
	if pair.html != nil {
		var buff bytes.Buffer
		if err := pair.html.Execute(&buff, data); err != nil {
			return err
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) Attach(r io.Reader, filename string, ct ...string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	at := Attachment{Filename: filename, Content: new(bytes.Buffer)}
	encoder := base64.NewEncoder(base64.StdEncoding, at.Content)
	if _, err = encoder.Write(content); err != nil {
		return err
	}
	_ = encoder.Close()

	if len(ct) > 0 {
		at.ContentType = ct[0]
	} else {
		at.ContentType = http.DetectContentType(content)
	}
	m.Attachments = append(m.Attachments, at)
	return nil
}

func (m *EmailMessage) AttachFile(path string, contentType ...string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.Attach(f, filepath.Base(path), contentType...)
}

func (m *EmailMessage) HasRecipients() bool  { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool     { return (m.TextContent != "") || (m.HTMLContent != "") }
func (m *EmailMessage) HasAttachments() bool { return len(m.Attachments) > 0 }

// loadEmailTemplates parses assets/templates/email once, pairing each
// <name>.txt with its optional <name>.gohtml. Both extend a shared _base
// layout.
func loadEmailTemplates() {
	emailTemplates = make(map[string]tmplPair)

	dir := filepath.Join(Conf.WorkDir, "assets", "templates", "email")
	paths, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		log.Printf("core.loadEmailTemplates: %v", err)
		return
	}

	strict := Conf.Debug || Conf.TestMode
	for _, fp := range paths {
		fname := filepath.Base(fp)
		ext := filepath.Ext(fname)
		if strings.HasPrefix(fname, "_") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		pair := emailTemplates[name]

		switch ext {
		case ".txt":
			tmpl, err := texttmpl.ParseFiles(filepath.Join(dir, "_base.txt"), fp)
			if err != nil {
				log.Printf("core.loadEmailTemplates(%s): %v", fname, err)
				continue
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			pair.text = tmpl
		case ".gohtml":
			tmpl, err := htmltmpl.ParseFiles(filepath.Join(dir, "_base.gohtml"), fp)
			if err != nil {
				log.Printf("core.loadEmailTemplates(%s): %v", fname, err)
				continue
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			pair.html = tmpl
		default:
			continue
		}
		emailTemplates[name] = pair
	}
}
