package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/pchan-tw/campusauth/pkg/logger"
)

// EmailService defines the interface for sending account emails
type EmailService interface {
	SendBindLink(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// linkExpiryPhrase renders the remaining lifetime of an emailed link,
// rounded up to whole minutes or hours, for the body text.
func linkExpiryPhrase(expiresAt time.Time) string {
	d := time.Until(expiresAt)
	if d < time.Minute {
		d = time.Minute
	}
	if d >= time.Hour {
		hours := int((d + time.Hour - 1) / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	minutes := int((d + time.Minute - 1) / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// SendBindLink mails the authenticator-binding link issued at
// registration or by an explicit resend.
func (s *AWSSESEmailService) SendBindLink(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/bind?token=%s", s.baseURL, token)
	htmlBody, textBody := bindLinkBodies(link, expiresAt)
	return s.send(ctx, email, "Set up your authenticator", htmlBody, textBody, "bind")
}

func bindLinkBodies(link string, expiresAt time.Time) (string, string) {
	expiry := linkExpiryPhrase(expiresAt)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Set Up Your Authenticator</h1>
        </div>
        <div class="content">
            <p>Your campus account is ready. To finish securing it, open the link below and scan the QR code with your authenticator app:</p>
            <p><a href="%s" class="button">Set Up Authenticator</a></p>
            <p>Or copy and paste this link in your browser:<br>
            <code>%s</code></p>
            <div class="warning">
                <strong>Security Notice:</strong> This link can be used once and expires in %s.
            </div>
            <p><strong>Didn't request this?</strong><br>
            If you did not register this account, you can ignore this email.</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, link, link, expiry)

	textBody := fmt.Sprintf(`Set Up Your Authenticator

Your campus account is ready. To finish securing it, open the link below and scan the QR code with your authenticator app:

%s

Security Notice: This link can be used once and expires in %s.

Didn't request this?
If you did not register this account, you can ignore this email.

This is an automated message. Please do not reply to this email.
`, link, expiry)

	return htmlBody, textBody
}

// SendPasswordReset mails a reset link. The raw token appears only here
// and in the link; the store keeps its digest.
func (s *AWSSESEmailService) SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	htmlBody, textBody := passwordResetBodies(link, expiresAt)
	return s.send(ctx, email, "Reset your password", htmlBody, textBody, "password_reset")
}

func passwordResetBodies(link string, expiresAt time.Time) (string, string) {
	expiry := linkExpiryPhrase(expiresAt)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Reset Your Password</h1>
        </div>
        <div class="content">
            <p>We received a request to reset the password for your campus account. Click the link below to choose a new password:</p>
            <p><a href="%s" class="button">Reset Password</a></p>
            <p>Or copy and paste this link in your browser:<br>
            <code>%s</code></p>
            <div class="warning">
                <strong>Security Notice:</strong> This link can be used once and expires in %s. Requesting a new link disables this one.
            </div>
            <p><strong>Didn't request this?</strong><br>
            If you did not ask to reset your password, you can ignore this email. Your password will not change.</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, link, link, expiry)

	textBody := fmt.Sprintf(`Reset Your Password

We received a request to reset the password for your campus account. Open the link below to choose a new password:

%s

Security Notice: This link can be used once and expires in %s. Requesting a new link disables this one.

Didn't request this?
If you did not ask to reset your password, you can ignore this email. Your password will not change.

This is an automated message. Please do not reply to this email.
`, link, expiry)

	return htmlBody, textBody
}

func (s *AWSSESEmailService) send(ctx context.Context, email, subject, htmlBody, textBody, kind string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("kind", kind),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("kind", kind),
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", *result.MessageId))

	return nil
}
