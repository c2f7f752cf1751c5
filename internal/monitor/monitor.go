package monitor

import (
	"context"

	"go.uber.org/zap"

	"tradebot-core/internal/events"
)

// Monitor watches rejection and failure events. Failures are logged as
// alerts at Warn; risk rejections are routine and logged at Info.
type Monitor struct {
	Bus     *events.Bus
	Logger  *zap.Logger
	AlertFn func(events.Envelope)
}

// Start subscribes and returns immediately; the listener stops with ctx.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		return
	}
	log := m.Logger
	if log == nil {
		log = zap.NewNop()
	}

	rejections, unsubR := m.Bus.Subscribe(events.EventRejection, 64)
	failures, unsubF := m.Bus.Subscribe(events.EventTickFailed, 64)
	orders, unsubO := m.Bus.Subscribe(events.EventOrderFailed, 64)
	go func() {
		defer unsubR()
		defer unsubF()
		defer unsubO()
		for {
			var env events.Envelope
			var ok bool
			select {
			case <-ctx.Done():
				return
			case env, ok = <-rejections:
			case env, ok = <-failures:
			case env, ok = <-orders:
			}
			if !ok {
				return
			}
			fields := []zap.Field{
				zap.String("type", string(env.Type)),
				zap.String("tenant_id", env.TenantID),
				zap.String("symbol", env.Symbol),
				zap.Any("data", env.Data),
			}
			if env.Type == events.EventRejection {
				log.Info("entry rejected", fields...)
			} else {
				log.Warn("alert", fields...)
			}
			if m.AlertFn != nil {
				m.AlertFn(env)
			}
		}
	}()
}
