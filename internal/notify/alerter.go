package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/events"
	"github.com/hamed0406/sitewatch/internal/repo"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	// SendTimeout bounds a single notification.
	SendTimeout time.Duration
}

// MonitorLookup resolves the monitor an update belongs to.
type MonitorLookup interface {
	Get(id domain.MonitorID) (domain.Monitor, error)
}

// Alerter consumes status updates and notifies on up/down transitions.
// Down alerts respect the cooldown; recovery alerts bypass it.
type Alerter struct {
	log      *zap.Logger
	alertDB  repo.AlertStore
	monitors MonitorLookup
	notifier Notifier
	cfg      AlerterConfig
	now      func() time.Time
}

func NewAlerter(
	log *zap.Logger,
	alertDB repo.AlertStore,
	monitors MonitorLookup,
	notifier Notifier,
	cfg AlerterConfig,
) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Alerter{
		log:      log,
		alertDB:  alertDB,
		monitors: monitors,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run handles events until ch closes or ctx ends.
func (a *Alerter) Run(ctx context.Context, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Kind != events.KindStatusUpdate || ev.Update == nil {
				continue
			}
			if err := a.handle(ctx, *ev.Update); err != nil {
				a.log.Warn("alert_failed",
					zap.String("monitor_id", string(ev.MonitorID)),
					zap.Error(err),
				)
			}
		}
	}
}

func (a *Alerter) handle(ctx context.Context, u domain.StatusUpdate) error {
	// only completed checks that landed on up or down are alertable
	if u.NewStatus != domain.StatusUp && u.NewStatus != domain.StatusDown {
		return nil
	}
	rec, err := a.alertDB.GetAlert(ctx, u.MonitorID)
	if err != nil {
		return fmt.Errorf("get alert state: %w", err)
	}

	now := a.now()
	up := u.NewStatus == domain.StatusUp
	stateChanged := rec == nil || rec.LastStatus != u.NewStatus

	cooled := true
	if rec != nil && rec.LastSentAt != nil {
		cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
	}

	downAlert := stateChanged && !up && cooled
	// a first-ever up is not a recovery
	recoveryAlert := stateChanged && up && rec != nil && a.cfg.AlertOnRecovery

	if !downAlert && !recoveryAlert {
		if stateChanged {
			return a.alertDB.SetAlert(ctx, u.MonitorID, u.NewStatus, time.Time{})
		}
		return nil
	}

	title, text := a.format(u)
	sctx, cancel := context.WithTimeout(ctx, a.cfg.SendTimeout)
	defer cancel()
	if err := a.notifier.Send(sctx, title, text); err != nil {
		// keep the old state so the next update retries the alert
		return fmt.Errorf("send: %w", err)
	}
	a.log.Info("alert_sent",
		zap.String("monitor_id", string(u.MonitorID)),
		zap.String("status", string(u.NewStatus)),
	)
	return a.alertDB.SetAlert(ctx, u.MonitorID, u.NewStatus, now)
}

func (a *Alerter) format(u domain.StatusUpdate) (string, string) {
	title := "🔴 Monitor DOWN"
	if u.NewStatus == domain.StatusUp {
		title = "🟢 Monitor RECOVERED"
	}

	name, kind, target := string(u.MonitorID), "n/a", "n/a"
	if m, err := a.monitors.Get(u.MonitorID); err == nil {
		name, kind, target = m.Name, string(m.Type), m.Target()
	}

	httpTxt := "n/a"
	if u.Result.StatusCode != 0 {
		httpTxt = fmt.Sprintf("%d", u.Result.StatusCode)
	}
	text := fmt.Sprintf(
		"Monitor: %s (%s)\nTarget: %s\nHTTP: %s\nLatency: %.0f ms\nReason: %s\nChecked: %s",
		name, kind, target, httpTxt, u.Result.LatencyMS, u.Result.Detail,
		u.Timestamp.Format(time.RFC3339),
	)
	return title, text
}
