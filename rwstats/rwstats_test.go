package rwstats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/slon/fairrw/rwmutex"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "test")
	require.NoError(t, err)

	rw := rwmutex.New(rwmutex.WithObserver(m))

	rw.RLock()
	rw.RLock()
	require.Equal(t, 2.0, testutil.ToFloat64(m.readers))
	rw.RUnlock()
	rw.RUnlock()

	rw.Lock()
	rw.Unlock()

	require.Equal(t, 2.0, testutil.ToFloat64(m.acquisitions.WithLabelValues(modeRead)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.acquisitions.WithLabelValues(modeWrite)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.groups))
	require.Zero(t, testutil.ToFloat64(m.readers))

	n, err := testutil.GatherAndCount(reg, "fairrw_wait_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

// stalled holds back the release callback that reports one remaining reader.
type stalled struct {
	*Metrics
	held    chan struct{}
	release chan struct{}
}

func (s *stalled) ReadReleased(readers int, last bool) {
	if readers == 1 {
		close(s.held)
		<-s.release
	}
	s.Metrics.ReadReleased(readers, last)
}

func TestMetrics_ReleaseCallbacksOutOfOrder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "reorder")
	require.NoError(t, err)

	s := &stalled{Metrics: m, held: make(chan struct{}), release: make(chan struct{})}
	rw := rwmutex.New(rwmutex.WithObserver(s))

	rw.RLock()
	rw.RLock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rw.RUnlock()
	}()
	<-s.held

	// The last reader reports before the earlier one does.
	rw.RUnlock()
	require.Zero(t, rw.Readers())

	close(s.release)
	<-done

	require.Zero(t, testutil.ToFloat64(m.readers))
	require.Equal(t, 1.0, testutil.ToFloat64(m.groups))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg, "dup")
	require.NoError(t, err)

	_, err = NewMetrics(reg, "dup")
	require.Error(t, err)

	_, err = NewMetrics(reg, "other")
	require.NoError(t, err)
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rw := rwmutex.New(rwmutex.WithObserver(NewLogger(zap.New(core))))

	rw.RLock()
	rw.RUnlock()
	rw.Lock()
	rw.Unlock()

	var messages []string
	for _, e := range logs.All() {
		messages = append(messages, e.Message)
	}
	require.Equal(t, []string{
		"read lock acquired",
		"read lock released",
		"write lock acquired",
		"write lock released",
	}, messages)

	first := logs.All()[0].ContextMap()
	require.Equal(t, true, first["first"])
	require.Equal(t, int64(1), first["readers"])
}

func TestLogger_Nil(t *testing.T) {
	l := NewLogger(nil)
	require.NotPanics(t, func() {
		l.ReadAcquired(time.Second, 1, true)
		l.WriteReleased()
	})
}

type counting struct {
	rwmutex.Observer
	calls int
}

func (c *counting) WriteAcquired(time.Duration) { c.calls++ }

func TestMulti(t *testing.T) {
	a, b := &counting{}, &counting{}
	o := Multi(a, nil, b)

	o.WriteAcquired(time.Millisecond)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)

	require.NotPanics(t, func() {
		Multi().ReadAcquired(0, 1, true)
	})
}
