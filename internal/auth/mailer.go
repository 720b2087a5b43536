package auth

import (
	"context"

	"go.uber.org/zap"

	"github.com/danghamo/passport/pkg/logger"
)

// LogMailer logs recovery mail instead of dispatching it. Deployments
// inject a real Mailer; this keeps development setups self-contained.
type LogMailer struct {
	logger *logger.Logger
}

// NewLogMailer creates a log-only mailer
func NewLogMailer(log *logger.Logger) *LogMailer {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &LogMailer{logger: log.WithComponent("mailer")}
}

// SendRecoveryEmail logs the recovery dispatch
func (m *LogMailer) SendRecoveryEmail(ctx context.Context, email, token string) error {
	m.logger.Info("Password recovery mail dispatched",
		zap.String("email", email),
		zap.String("token", token),
	)
	return nil
}
