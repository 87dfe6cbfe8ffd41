package auth

import (
	"context"

	"contacts-api/internal/observability"
)

// Notifier delivers verification and password-reset tokens to users.
// Actual mail transport is owned by the deployment; LogNotifier is the
// default and writes the token to the structured log.
type Notifier interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

type LogNotifier struct {
	logger *observability.Logger
}

func NewLogNotifier(logger *observability.Logger) LogNotifier {
	return LogNotifier{logger: logger}
}

func (n LogNotifier) SendVerification(ctx context.Context, email, token string) error {
	n.logger.Info("verification_token_issued", map[string]any{
		"email": email,
		"token": token,
	})
	return nil
}

func (n LogNotifier) SendPasswordReset(ctx context.Context, email, token string) error {
	n.logger.Info("password_reset_token_issued", map[string]any{
		"email": email,
		"token": token,
	})
	return nil
}
