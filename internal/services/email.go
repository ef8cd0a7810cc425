package services

import (
	"fmt"
	"net/smtp"
	"os"

	"cryptopay_app/internal/models"
)

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService() *EmailService {
	return &EmailService{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		user:     os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASS"),
		from:     os.Getenv("EMAIL_FROM"),
	}
}

func (s *EmailService) SendEmail(to []string, subject, body string) error {
	if s.host == "" || s.port == "" || s.user == "" || s.password == "" {
		return fmt.Errorf("SMTP credentials not fully configured")
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)

	// Build the message
	message := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", to[0], subject, body))

	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	err := smtp.SendMail(addr, auth, s.from, to, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// SendReceipt sends the customer payment receipt for a confirmed transaction
func (s *EmailService) SendReceipt(to string, tx *models.Transaction) error {
	subject := fmt.Sprintf("Payment receipt for order %s", tx.OrderID)

	amount := tx.PriceAmount
	currency := tx.PriceCurrency
	if tx.AmountReceived != nil {
		amount = *tx.AmountReceived
		currency = tx.CurrencyReceived
	}

	body := fmt.Sprintf(
		"Your payment has been confirmed.\r\n"+
			"\r\n"+
			"Order: %s\r\n"+
			"Amount: %v %s\r\n",
		tx.OrderID, amount, currency)
	if tx.TxHash != "" {
		body += fmt.Sprintf("Transaction hash: %s\r\n", tx.TxHash)
	}

	return s.SendEmail([]string{to}, subject, body)
}
