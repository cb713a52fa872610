package mailer

import (
	"fmt"
	"time"

	"github.com/bookhaven/library-service/pkg/logger"
)

type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendOverdueNotice(toEmail, toName, bookTitle string, dueDate time.Time, overdueDays int) error {
	logger.Info("[DEV MAIL] Overdue Notice",
		"to", toEmail,
		"name", toName,
		"book", bookTitle,
		"due_date", dueDate.Format("2006-01-02"),
		"overdue_days", overdueDays,
	)

	fmt.Printf("\n"+
		"=================================================================\n"+
		"OVERDUE NOTICE (DEV MODE)\n"+
		"=================================================================\n"+
		"To: %s (%s)\n"+
		"Subject: Overdue book reminder\n"+
		"\n"+
		"Book: %s\n"+
		"Due: %s (%d days overdue)\n"+
		"=================================================================\n\n",
		toEmail, toName, bookTitle, dueDate.Format("2006-01-02"), overdueDays)

	return nil
}
