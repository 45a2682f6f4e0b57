package services

import (
	"context"
	"fmt"
	"html"

	"societyapp/config"
	"societyapp/models"

	"gopkg.in/gomail.v2"
)

// Notifier отправляет уведомления жителям
type Notifier interface {
	SendPaymentConfirmation(ctx context.Context, user *models.User, payment *models.Payment) error
}

// mailDialer абстракция над gomail.Dialer
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailService предоставляет методы для отправки email
type EmailService struct {
	dialer mailDialer
	from   string
}

// NewEmailService создает новый экземпляр EmailService
func NewEmailService(cfg *config.Config) *EmailService {
	dialer := gomail.NewDialer(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
	)

	return &EmailService{
		dialer: dialer,
		from:   cfg.SMTP.From,
	}
}

// SendEmail отправляет email. gomail не принимает context, поэтому
// отправка идет в отдельной горутине, а ожидание ограничено ctx.
func (s *EmailService) SendEmail(ctx context.Context, to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ошибка отправки email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ошибка отправки email: %w", ctx.Err())
	}
}

// SendPaymentConfirmation отправляет подтверждение оплаты
func (s *EmailService) SendPaymentConfirmation(ctx context.Context, user *models.User, payment *models.Payment) error {
	if user == nil || user.Email == "" {
		return fmt.Errorf("у платежа %s нет адреса получателя", payment.ID)
	}

	transactionID := ""
	if payment.TransactionID != nil {
		transactionID = *payment.TransactionID
	}
	paidAt := ""
	if payment.PaidDate != nil {
		paidAt = payment.PaidDate.Format("02 Jan 2006 15:04")
	}
	receiptLink := ""
	if payment.Receipt.Present() {
		receiptLink = fmt.Sprintf(`<p><a href="%s">Download receipt</a></p>`, html.EscapeString(*payment.Receipt.URL))
	}

	subject := "Payment Confirmation - Society App"
	body := fmt.Sprintf(`
		<h2>Payment Successful</h2>
		<p>Dear %s,</p>
		<p>Your payment has been processed successfully.</p>
		<p>Amount: ₹%s</p>
		<p>Type: %s</p>
		<p>Transaction ID: %s</p>
		<p>Date: %s</p>
		%s
		<p>Thank you for your payment!</p>
	`,
		html.EscapeString(user.Name),
		payment.Amount.StringFixed(2),
		html.EscapeString(string(payment.Category)),
		html.EscapeString(transactionID),
		paidAt,
		receiptLink,
	)

	return s.SendEmail(ctx, user.Email, subject, body)
}
