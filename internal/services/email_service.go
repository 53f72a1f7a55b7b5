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
)

// EmailService defines the interface for sending lifecycle emails
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendDeletionConfirmationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendDeletionReminderEmail(ctx context.Context, email string, scheduledFor time.Time, daysRemaining int) error
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

// SendVerificationEmail sends an email verification link to the user
func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)
	hours := int(time.Until(expiresAt).Round(time.Hour).Hours())

	htmlBody := emailHTML("Verify Your Email Address", fmt.Sprintf(`
            <p>Welcome!</p>
            <p>Thank you for creating an account. To complete your registration, please verify your email address by clicking the link below:</p>
            <p><a href="%s" class="button">Verify Email Address</a></p>
            <p>Or copy and paste this link in your browser:<br>
            <code>%s</code></p>
            <div class="warning">
                <strong>Security Notice:</strong> This link will expire in %d hours.
            </div>
            <p><strong>Didn't create this account?</strong><br>
            If you didn't sign up for this account, you can ignore this email. Your email address will not be verified.</p>`,
		link, link, hours))

	textBody := fmt.Sprintf(`Verify Your Email Address

Welcome! Thank you for creating an account. To complete your registration, please verify your email address by visiting the link below:

%s

Security Notice: This link will expire in %d hours.

Didn't create this account?
If you didn't sign up for this account, you can ignore this email. Your email address will not be verified.
`, link, hours)

	return s.send(ctx, email, "Verify your email address", htmlBody, textBody, "verification")
}

// SendPasswordResetEmail sends a password reset link to the user
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	hours := int(time.Until(expiresAt).Round(time.Hour).Hours())

	htmlBody := emailHTML("Reset Your Password", fmt.Sprintf(`
            <p>We received a request to reset the password for your account.</p>
            <p><a href="%s" class="button">Reset Password</a></p>
            <p>Or copy and paste this link in your browser:<br>
            <code>%s</code></p>
            <div class="warning">
                <strong>Security Notice:</strong> This link will expire in %d hours.
            </div>
            <p><strong>Didn't request this?</strong><br>
            If you didn't ask to reset your password, you can ignore this email. Your password will not change.</p>`,
		link, link, hours))

	textBody := fmt.Sprintf(`Reset Your Password

We received a request to reset the password for your account. Visit the link below to choose a new password:

%s

Security Notice: This link will expire in %d hours.

Didn't request this?
If you didn't ask to reset your password, you can ignore this email. Your password will not change.
`, link, hours)

	return s.send(ctx, email, "Reset your password", htmlBody, textBody, "password_reset")
}

// SendDeletionConfirmationEmail sends the account deletion confirmation link
func (s *AWSSESEmailService) SendDeletionConfirmationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/confirm-deletion?token=%s", s.baseURL, token)
	hours := int(time.Until(expiresAt).Round(time.Hour).Hours())

	htmlBody := emailHTML("Confirm Account Deletion", fmt.Sprintf(`
            <p>We received a request to permanently delete your account.</p>
            <p>If you want to proceed, confirm the deletion by clicking the link below:</p>
            <p><a href="%s" class="button">Confirm Account Deletion</a></p>
            <p>Or copy and paste this link in your browser:<br>
            <code>%s</code></p>
            <div class="warning">
                <strong>Security Notice:</strong> This link will expire in %d hours. After confirming,
                your account enters a grace period during which you can still cancel the deletion by logging in.
            </div>
            <p><strong>Didn't request this?</strong><br>
            If you didn't ask to delete your account, ignore this email and consider changing your password.</p>`,
		link, link, hours))

	textBody := fmt.Sprintf(`Confirm Account Deletion

We received a request to permanently delete your account. If you want to proceed, confirm the deletion by visiting the link below:

%s

Security Notice: This link will expire in %d hours. After confirming, your account enters a grace period during which you can still cancel the deletion by logging in.

Didn't request this?
If you didn't ask to delete your account, ignore this email and consider changing your password.
`, link, hours)

	return s.send(ctx, email, "Confirm your account deletion", htmlBody, textBody, "deletion_confirmation")
}

// SendDeletionReminderEmail reminds the user that permanent deletion is approaching
func (s *AWSSESEmailService) SendDeletionReminderEmail(ctx context.Context, email string, scheduledFor time.Time, daysRemaining int) error {
	cancelLink := fmt.Sprintf("%s/account/deletion", s.baseURL)
	when := scheduledFor.UTC().Format("January 2, 2006")

	htmlBody := emailHTML("Your Account Will Be Deleted Soon", fmt.Sprintf(`
            <p>This is a reminder that your account is scheduled for permanent deletion on <strong>%s</strong> (%d day(s) from now).</p>
            <p>If you changed your mind, you can cancel the deletion any time before then:</p>
            <p><a href="%s" class="button">Cancel Deletion</a></p>
            <div class="warning">
                <strong>This cannot be undone.</strong> Once the deletion completes, your data is gone permanently.
            </div>`,
		when, daysRemaining, cancelLink))

	textBody := fmt.Sprintf(`Your Account Will Be Deleted Soon

This is a reminder that your account is scheduled for permanent deletion on %s (%d day(s) from now).

If you changed your mind, you can cancel the deletion any time before then:

%s

This cannot be undone. Once the deletion completes, your data is gone permanently.
`, when, daysRemaining, cancelLink)

	return s.send(ctx, email, "Your account will be deleted soon", htmlBody, textBody, "deletion_reminder")
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
			slog.String("email", email),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("kind", kind),
		slog.String("email", email),
		slog.String("message_id", *result.MessageId))

	return nil
}

func emailHTML(heading, content string) string {
	return fmt.Sprintf(`
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
            <h1>%s</h1>
        </div>
        <div class="content">%s
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
            <p>If you have any questions, please contact our support team.</p>
        </div>
    </div>
</body>
</html>
`, heading, content)
}
