package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/photos_relay/internal/downloader"
	"github.com/italolelis/photos_relay/internal/logctx"
)

// maxListedErrors bounds the failure lines in one message.
const maxListedErrors = 5

// FormatSessionFinished renders a finished session for a chat message.
func FormatSessionFinished(s downloader.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Download session %s finished: %d of %d downloaded, %d failed (%s)",
		s.SessionID, s.Downloaded, s.Total, s.Failed,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Second))

	for i, e := range s.Errors {
		if i == maxListedErrors {
			fmt.Fprintf(&b, "\n… and %d more", len(s.Errors)-maxListedErrors)

			break
		}

		b.WriteString("\n- ")
		b.WriteString(e)
	}

	return b.String()
}

// WatchSessions sends a notification for every finished session until
// events is closed or ctx ends. Failures are logged and never block the
// orchestrator.
func WatchSessions(ctx context.Context, n Notifier, events <-chan downloader.Summary) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-events:
			if !ok {
				return nil
			}

			if err := n.Notify(ctx, FormatSessionFinished(s)); err != nil {
				logger.Error("failed to send notification", "session_id", s.SessionID, "err", err)
			}
		}
	}
}
