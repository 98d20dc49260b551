package agent

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zfair/uniqd/internal/provider/seqstore"
)

// fsyncInterval is the outer bound on how long uncommitted allocations
// can sit unflushed; the file store's WakeChan lets urgent flushes
// happen sooner.
const fsyncInterval = time.Second

// fsyncLoop runs in its own goroutine, cooperating with the dispatcher
// only through the sequence store's file descriptor, counters, and
// wake channel. A Flush failure is fatal: the loop returns the error,
// which ends Start, because continuing to serve requests against an
// un-fsyncable store risks reissuing ids across a crash.
func (s *Server) fsyncLoop() error {
	ticker := time.NewTicker(fsyncInterval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if w, ok := s.store.(seqstore.Waker); ok {
		wake = w.WakeChan()
	}

	for {
		select {
		case <-s.exitChan:
			return nil
		case <-ticker.C:
		case <-wake:
		}

		if err := s.store.Flush(); err != nil {
			s.logger.Error("fsync failed, shutting down", zap.Error(err))
			return err
		}
		atomic.StoreInt64(&s.lastFsyncUnix, time.Now().Unix())
	}
}
