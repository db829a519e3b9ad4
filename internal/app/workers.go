package app

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// workerShutdownTimeout — сколько ждём остановки фоновых воркеров.
const workerShutdownTimeout = 5 * time.Second

// backgroundWorkers запускает фоновые циклы с общим ctx и останавливает их вместе.
type backgroundWorkers struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Entry
}

func newBackgroundWorkers(parent context.Context, logger *log.Entry) *backgroundWorkers {
	ctx, cancel := context.WithCancel(parent)
	return &backgroundWorkers{ctx: ctx, cancel: cancel, logger: logger}
}

// Go запускает run в отдельной горутине до отмены ctx.
func (b *backgroundWorkers) Go(name string, run func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.logger.WithField("worker", name).Info("background worker started")
		run(b.ctx)
		b.logger.WithField("worker", name).Info("background worker stopped")
	}()
}

// Shutdown отменяет ctx и ждёт воркеры не дольше workerShutdownTimeout.
func (b *backgroundWorkers) Shutdown() {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	shutdownWorkers(b.cancel, done, b.logger)
}

func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}

	select {
	case <-done:
	case <-time.After(workerShutdownTimeout):
		logger.Warn("background workers did not stop before timeout")
	}
}
