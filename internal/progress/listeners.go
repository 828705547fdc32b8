package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/slack-go/slack"
)

// LogListener writes every event to a structured logger.
type LogListener struct {
	Log *slog.Logger
}

func NewLogListener(log *slog.Logger) *LogListener {
	if log == nil {
		log = slog.Default()
	}
	return &LogListener{Log: log}
}

func (l *LogListener) OnEvent(e Event) error {
	attrs := []any{
		"name", e.Name,
		"execution_id", e.ExecutionID,
	}
	switch e.Kind {
	case KindStarted:
		l.Log.Info("execution started", append(attrs, "resumed", e.Resumed)...)
	case KindCompleted:
		l.Log.Info("execution completed",
			append(attrs, "elapsed", e.Elapsed, "results", e.Results)...)
	case KindFailed:
		l.Log.Error("execution failed",
			append(attrs, "elapsed", e.Elapsed, "checkpoint_available", e.CheckpointAvailable, "error", e.Error)...)
	case KindRetry:
		l.Log.Warn("execution retrying",
			append(attrs, "attempt", e.Attempt, "max_retries", e.MaxRetries, "delay", e.Delay, "error", e.Error)...)
	case KindBatchCompleted:
		l.Log.Info("batch completed",
			append(attrs, "batch", e.Batch, "batches", e.Batches, "processed", e.Processed, "total", e.Total, "percent", e.Percent)...)
	default:
		l.Log.Info("progress event", append(attrs, "kind", string(e.Kind))...)
	}
	return nil
}

// MetricsListener exports progress counters and the last reported percentage
// to Prometheus.
type MetricsListener struct {
	events  *prometheus.CounterVec
	retries prometheus.Counter
	percent *prometheus.GaugeVec
}

// NewMetricsListener registers the progress metrics with reg.
func NewMetricsListener(reg prometheus.Registerer) *MetricsListener {
	factory := promauto.With(reg)
	return &MetricsListener{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "biomapper_progress_events_total",
			Help: "Progress events broadcast, by kind.",
		}, []string{"kind"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "biomapper_execution_retries_total",
			Help: "Execution attempts that were retried.",
		}),
		percent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biomapper_execution_percent_complete",
			Help: "Last reported completion percentage per execution.",
		}, []string{"name"}),
	}
}

func (m *MetricsListener) OnEvent(e Event) error {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	switch e.Kind {
	case KindRetry:
		m.retries.Inc()
	case KindBatchCompleted:
		m.percent.WithLabelValues(e.Name).Set(e.Percent)
	case KindCompleted:
		m.percent.WithLabelValues(e.Name).Set(100)
	}
	return nil
}

// SlackPoster is the slice of the Slack API the listener needs. Satisfied
// by *slack.Client.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackListener posts lifecycle transitions (started, completed, failed) to
// a Slack channel. Batch and retry chatter is deliberately not forwarded.
type SlackListener struct {
	Client  SlackPoster
	Channel string
	Timeout time.Duration
}

// NewSlackListener builds a listener posting to the given channel.
func NewSlackListener(client SlackPoster, channel string) *SlackListener {
	return &SlackListener{Client: client, Channel: channel, Timeout: 10 * time.Second}
}

func (s *SlackListener) OnEvent(e Event) error {
	var text string
	switch e.Kind {
	case KindStarted:
		text = fmt.Sprintf(":arrow_forward: `%s` started (execution %s, resumed=%t)",
			e.Name, e.ExecutionID, e.Resumed)
	case KindCompleted:
		text = fmt.Sprintf(":white_check_mark: `%s` completed in %s (%d results)",
			e.Name, e.Elapsed.Round(time.Millisecond), e.Results)
	case KindFailed:
		text = fmt.Sprintf(":x: `%s` failed after %s: %s (checkpoint available: %t)",
			e.Name, e.Elapsed.Round(time.Millisecond), e.Error, e.CheckpointAvailable)
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	_, _, err := s.Client.PostMessageContext(ctx, s.Channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post slack notification: %w", err)
	}
	return nil
}
