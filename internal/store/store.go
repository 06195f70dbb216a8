// Package store delivers whole-collection snapshots of customer orders from
// a realtime backing source to subscribers.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

// Source watches a backing collection and calls publish with the complete
// current collection every time it changes, starting with the initial
// state. Run blocks until ctx is done or the source fails.
type Source interface {
	Run(ctx context.Context, publish func(models.Collection)) error
}

type Store struct {
	source Source
	logger *logrus.Logger
}

func New(source Source, logger *logrus.Logger) *Store {
	return &Store{source: source, logger: logger}
}

// Subscribe starts watching the source and calls onUpdate with the full
// record list on every change. If the source fails, onUpdate receives a
// single empty list and the subscription ends. Updates are delivered from
// one goroutine, never concurrently.
//
// The returned function stops the subscription; once it returns, onUpdate
// is not called again. It must not be called from inside onUpdate.
func (s *Store) Subscribe(onUpdate func([]models.OrderRecord)) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	var mu sync.Mutex
	deliver := func(records []models.OrderRecord) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		onUpdate(records)
	}

	go func() {
		defer close(done)

		err := s.source.Run(ctx, func(c models.Collection) {
			deliver(c.Records())
		})
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}

		s.logger.WithError(err).Error("Order subscription failed, delivering empty snapshot")
		deliver([]models.OrderRecord{})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			// wait out a delivery that began before cancel
			mu.Lock()
			mu.Unlock()
		})
	}
}
