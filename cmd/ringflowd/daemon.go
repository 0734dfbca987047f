package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/drblury/ringflow/internal/runtime"
	configpkg "github.com/drblury/ringflow/internal/runtime/config"
	"github.com/drblury/ringflow/internal/runtime/event"
	loggingpkg "github.com/drblury/ringflow/internal/runtime/logging"
	"github.com/drblury/ringflow/transport"
	_ "github.com/drblury/ringflow/transport/transports"
)

const ackConsumerName = "ack"

// daemon owns one queue and the front-ends publishing into it.
type daemon struct {
	conf      *configpkg.Config
	logger    loggingpkg.ServiceLogger
	queue     *runtime.Queue
	listeners []transport.Listener
}

func newDaemon(ctx context.Context, conf *configpkg.Config, logger loggingpkg.ServiceLogger) (*daemon, error) {
	q, err := runtime.NewQueue(conf, logger, runtime.QueueDependencies{})
	if err != nil {
		return nil, err
	}
	if err := q.RegisterConsumer(ackConsumerName, ackConsumer(logger)); err != nil {
		return nil, err
	}

	listeners, err := transport.BuildAll(ctx, conf.Frontends, conf, transport.Dependencies{
		Publisher: q,
		Stats:     q.Stats(),
		Logger:    loggingpkg.NewWatermillAdapter(logger),
	})
	if err != nil {
		return nil, err
	}
	for _, l := range listeners {
		logger.Info("Front-end bound", loggingpkg.LogFields{"frontend": l.Name(), "address": l.Addr()})
	}

	return &daemon{conf: conf, logger: logger, queue: q, listeners: listeners}, nil
}

// run serves every front-end until ctx ends or one of them fails, then stops
// the front-ends before draining the queue.
func (d *daemon) run(ctx context.Context) error {
	// The queue is stopped explicitly below, after the front-ends.
	if err := d.queue.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(err, transport.CloseAll(d.listeners))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range d.listeners {
		g.Go(func() error {
			if err := l.Serve(gctx); err != nil {
				return fmt.Errorf("serve %s: %w", l.Name(), err)
			}
			return nil
		})
	}
	serveErr := g.Wait()
	if serveErr != nil {
		d.logger.Error("Front-end failed", serveErr, nil)
	}
	closeErr := transport.CloseAll(d.listeners)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.conf.DrainTimeout)
	defer cancel()
	stopErr := d.queue.Stop(stopCtx)

	stats := d.queue.Stats()
	d.logger.Info("Daemon stopped", loggingpkg.LogFields{
		"requests":  stats.TotalRequests(),
		"completed": stats.CompletedRequests(),
		"failed":    stats.ErrorRequestCount(),
		"clients":   stats.TotalClients(),
	})
	return errors.Join(serveErr, closeErr, stopErr)
}

// ackConsumer answers every event that carries a reply channel with
// "ack <event id>" and logs each completed batch.
func ackConsumer(logger loggingpkg.ServiceLogger) runtime.ConsumerFunc {
	var batch int
	return func(ctx context.Context, ev *event.Event, seq int64, endOfBatch bool) error {
		batch++
		if endOfBatch {
			logger.Debug("Batch consumed", loggingpkg.LogFields{"size": batch, "sequence": seq})
			batch = 0
		}
		if _, err := ev.Reply(ctx, []byte("ack "+ev.ID)); err != nil {
			if errors.Is(err, transport.ErrReplyClosed) {
				return nil
			}
			return fmt.Errorf("reply to %s: %w", ev.ClientID, err)
		}
		return nil
	}
}
