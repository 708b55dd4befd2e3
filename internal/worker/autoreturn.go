package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/psds-microservice/request-service/internal/service"
)

// AutoReturn — фоновый обход зависших заявок: по тикеру возвращает в очередь
// in_progress-заявки без изменений дольше порога. Best-effort: пропущенный
// цикл лишь откладывает возврат.
type AutoReturn struct {
	svc       *service.RequestService
	log       *zap.Logger
	interval  time.Duration
	threshold time.Duration
}

func NewAutoReturn(svc *service.RequestService, log *zap.Logger, interval, threshold time.Duration) *AutoReturn {
	return &AutoReturn{svc: svc, log: log, interval: interval, threshold: threshold}
}

// Run блокируется до отмены ctx, выполняя обход каждые interval.
func (w *AutoReturn) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.log.Info("auto-return worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("threshold", w.threshold))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("auto-return worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce — один проход (используется и командой sweep).
func (w *AutoReturn) RunOnce(ctx context.Context) {
	returned, err := w.svc.AutoReturnStale(ctx, w.threshold)
	if err != nil {
		w.log.Warn("auto-return pass failed", zap.Error(err))
		return
	}
	if returned > 0 {
		w.log.Info("auto-return pass done", zap.Int("returned", returned))
	}
}
