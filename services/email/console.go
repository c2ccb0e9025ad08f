// Package emailsvc provides core.EmailService implementations: sendgrid for
// deployments and a console sender for development and tests.
package emailsvc

import (
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"

	"github.com/relieflab/dms/core"
)

// SentMessages collects every message the console sender delivered, for
// test assertions.
var (
	SentMessages = make([]core.EmailMessage, 0)
	mu           sync.Mutex
)

type consoleService struct {
	from        mail.Address
	subjPrefix  string
	quiet       bool
	synchronous bool
}

var _ core.EmailService = (*consoleService)(nil)

// NewConsoleService returns a sender that prints rendered messages to the
// standard logger instead of delivering them.
func NewConsoleService() core.EmailService {
	return &consoleService{
		from:       mail.Address{Name: core.Conf.AppName, Address: core.Conf.DefaultFromEmail},
		subjPrefix: "[" + core.Conf.AppName + "] ",
	}
}

// NewConsoleServiceMock returns a silent, synchronous sender; tests read
// SentMessages after the call returns.
func NewConsoleServiceMock() core.EmailService {
	return &consoleService{
		from:        mail.Address{Name: core.Conf.AppName, Address: core.Conf.DefaultFromEmail},
		subjPrefix:  "[" + core.Conf.AppName + "] ",
		quiet:       true,
		synchronous: true,
	}
}

func (svc *consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if svc.synchronous {
			svc.deliver(msg)
		} else {
			go svc.deliver(msg)
		}
	}
}

func (svc *consoleService) deliver(msg *core.EmailMessage) {
	if err := msg.Render(); err != nil {
		log.Printf("emailsvc: rendering %q: %v", msg.Subject, err)
		return
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return
	}

	if !svc.quiet {
		log.Println(svc.format(msg))
	}
	mu.Lock()
	SentMessages = append(SentMessages, *msg)
	mu.Unlock()
}

func (svc *consoleService) format(msg *core.EmailMessage) string {
	b := new(strings.Builder)
	fmt.Fprintf(b, "\nFrom: %s\n", svc.from.String())
	fmt.Fprintf(b, "To: %s\n", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(b, "Cc: %s\n", joinAddresses(msg.Cc))
	}
	fmt.Fprintf(b, "Subject: %s\n\n", svc.subjPrefix+msg.Subject)
	fmt.Fprintln(b, msg.TextContent)
	for _, at := range msg.Attachments {
		fmt.Fprintf(b, "[attachment: %s (%s)]\n", at.Filename, at.ContentType)
	}
	return b.String()
}

func joinAddresses(addrs []mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
