// Package transport delivers decrypted messages to their recipients.
package transport

import (
	"context"
	"strings"

	"anonsend/logging"
)

// Sender delivers one message. A nil error means the message left this
// process and must not be sent again.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogSender records what would have been sent without sending anything.
// It logs sizes and the recipient domain, never the body.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LogSender{logger: logger.WithComponent("transport")}
}

func (s *LogSender) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("dry-run send",
		"recipient_domain", domainOf(recipient),
		"subject_bytes", len(subject),
		"body_bytes", len(body),
	)
	return nil
}

func domainOf(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at >= 0 {
		return addr[at+1:]
	}
	return ""
}
