package app

import (
	"context"
	"errors"
	"time"

	"bucketd/internal/alerting"
)

// SimulateAlert dispatches a synthetic drift alert through the configured
// channels so operators can verify alert routing end to end.
func (a *App) SimulateAlert(ctx context.Context, basketName string, targetBps, actualBps int32) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	note := alerting.Notification{
		Kind:          alerting.KindDrift,
		Basket:        basketName,
		Bucket:        bucket,
		TargetBps:     targetBps,
		ActualBps:     actualBps,
		DriftBps:      actualBps - targetBps,
		ThresholdBps:  a.Config.Rebalance.DriftThresholdBps,
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "simulated alert",
	}
	return notifier.Notify(ctx, note)
}
