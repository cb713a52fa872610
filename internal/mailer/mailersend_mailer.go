package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendOverdueNotice(toEmail, toName, bookTitle string, dueDate time.Time, overdueDays int) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := "Overdue book reminder"
	html := fmt.Sprintf(`
		<h2>Overdue book reminder</h2>
		<p>Hi %s,</p>
		<p>The book <strong>%s</strong> was due on %s and is now <strong>%d day(s)</strong> overdue.</p>
		<p>Please return it to the library as soon as possible.</p>
	`, toName, bookTitle, dueDate.Format("January 2, 2006"), overdueDays)

	text := fmt.Sprintf("The book %q was due on %s and is now %d day(s) overdue. Please return it as soon as possible.",
		bookTitle, dueDate.Format("2006-01-02"), overdueDays)

	return m.sendEmail(toEmail, toName, subject, text, html)
}

func (m *MailerSendClient) sendEmail(toEmail, toName, subject, text, html string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)

	if strings.TrimSpace(text) != "" {
		msg.SetText(text)
	}
	if strings.TrimSpace(html) != "" {
		msg.SetHTML(html)
	}

	_, err := m.client.Email.Send(ctx, msg)
	return err
}
