package mailer

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	walletauth "github.com/MrEthical07/walletauth"
)

// Log writes every message to a logger instead of sending it. The plain
// text body is included so a developer can read sign-in codes off the
// console.
type Log struct {
	logger *zap.Logger
}

var _ walletauth.Mailer = (*Log)(nil)

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("mailer")}
}

func (l *Log) Send(_ context.Context, msg walletauth.EmailMessage) (walletauth.SendResult, error) {
	id := ulid.Make().String()
	l.logger.Info("email captured",
		zap.String("message_id", id),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("category", msg.Category),
		zap.String("body", msg.TextBody),
	)
	return walletauth.SendResult{MessageID: id}, nil
}
