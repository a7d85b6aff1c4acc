package services

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/utils"
)

type EmailService interface {
	SendEmail(ctx context.Context, toEmail string, subject string, plainText string, htmlContent string) error
}

type emailService struct {
	log       *logger.Logger
	client    *sendgrid.Client
	fromName  string
	fromEmail string
}

func NewEmailService(log *logger.Logger) (EmailService, error) {
	serviceLog := log.With("service", "EmailService")
	apiKey := utils.GetEnv("SENDGRID_API_KEY", "", serviceLog)
	if apiKey == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY environment variable")
	}
	fromEmail := utils.GetEnv("SENDGRID_CHAT_EMAIL", "", serviceLog)
	if fromEmail == "" {
		serviceLog.Warn("SENDGRID_CHAT_EMAIL not set; using fallback no-reply@localease.app")
		fromEmail = "no-reply@localease.app"
	}
	return &emailService{
		log:       serviceLog,
		client:    sendgrid.NewSendClient(apiKey),
		fromName:  utils.GetEnv("SENDGRID_FROM_NAME", "Localease", serviceLog),
		fromEmail: fromEmail,
	}, nil
}

func (es *emailService) SendEmail(ctx context.Context, toEmail string, subject string, plainText string, htmlContent string) error {
	from := mail.NewEmail(es.fromName, es.fromEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	response, err := es.client.SendWithContext(ctx, message)
	if err != nil {
		es.log.Warn("Sendgrid email send failed", "error", err)
		return err
	}
	if response.StatusCode >= 400 {
		es.log.Warn("Sendgrid rejected email", "to", toEmail, "statusCode", response.StatusCode)
		return fmt.Errorf("sendgrid returned status %d", response.StatusCode)
	}
	es.log.Info("Email sent", "to", toEmail, "statusCode", response.StatusCode)
	return nil
}
