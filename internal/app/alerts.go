package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polyhistory/internal/config"
	"github.com/alanyoungcy/polyhistory/internal/notify"
	"github.com/alanyoungcy/polyhistory/internal/pipeline"
)

// newNotifier builds a Notifier over the configured chat channels. It returns
// nil when none is configured.
func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL, "polyhistory"))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}

// alertHook turns run outcomes into notifications.
func alertHook(n *notify.Notifier, logger *slog.Logger) pipeline.RunHook {
	return func(ctx context.Context, report pipeline.RunReport, err error) {
		event, title, message := describeRun(report, err)
		if !n.Wants(event) {
			return
		}

		// The run context may already be cancelled.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if nerr := n.Notify(sendCtx, event, title, message); nerr != nil {
			logger.WarnContext(ctx, "run alert not delivered",
				slog.String("run_id", report.RunID),
				slog.String("error", nerr.Error()),
			)
		}
	}
}

// describeRun classifies a run outcome and renders its alert text.
func describeRun(report pipeline.RunReport, err error) (event, title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s", report.RunID)
	if !report.FetchDate.IsZero() {
		fmt.Fprintf(&b, " for %s", report.FetchDate.Format("2006-01-02"))
	}
	b.WriteString("\n")

	switch {
	case err != nil:
		event, title = notify.EventRunFailed, "polyhistory run failed"
		fmt.Fprintf(&b, "error: %v\n", err)
	case report.Skipped:
		event, title = notify.EventRunSkipped, "polyhistory run skipped"
		b.WriteString("another run holds the lock\n")
		return event, title, strings.TrimSpace(b.String())
	case report.Events.Truncated || report.Markets.Truncated:
		event, title = notify.EventRunTruncated, "polyhistory run truncated"
	default:
		event, title = notify.EventRunSucceeded, "polyhistory run succeeded"
	}

	writeEntity(&b, "events", report.Events)
	writeEntity(&b, "markets", report.Markets)
	return event, title, strings.TrimSpace(b.String())
}

func writeEntity(b *strings.Builder, name string, r pipeline.EntityReport) {
	fmt.Fprintf(b, "%s: fetched %d in %d pages, %d duplicates, %d stored", name, r.Fetched, r.Pages, r.Duplicates, r.Inserted)
	if r.Truncated {
		fmt.Fprintf(b, ", truncated: %s", r.Reason)
	}
	b.WriteString("\n")
}
