package mailer

import "time"

type Service interface {
	SendOverdueNotice(toEmail, toName, bookTitle string, dueDate time.Time, overdueDays int) error
}
