package rwstats

import (
	"time"

	"go.uber.org/zap"

	"gitlab.com/slon/fairrw/rwmutex"
)

// Logger writes every lock transition to a zap logger at debug level. It
// implements rwmutex.Observer.
type Logger struct {
	log *zap.Logger
}

var _ rwmutex.Observer = (*Logger)(nil)

// NewLogger returns a Logger. A nil log discards everything.
func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log}
}

func (l *Logger) ReadAcquired(wait time.Duration, readers int, first bool) {
	l.log.Debug("read lock acquired",
		zap.Duration("wait", wait),
		zap.Int("readers", readers),
		zap.Bool("first", first),
	)
}

func (l *Logger) ReadReleased(readers int, last bool) {
	l.log.Debug("read lock released",
		zap.Int("readers", readers),
		zap.Bool("last", last),
	)
}

func (l *Logger) WriteAcquired(wait time.Duration) {
	l.log.Debug("write lock acquired", zap.Duration("wait", wait))
}

func (l *Logger) WriteReleased() {
	l.log.Debug("write lock released")
}
