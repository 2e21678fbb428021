package messaging

import (
	"sync/atomic"
	"testing"
	"time"

	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notificationBody = `[{"type":"SWAP","signature":"sig-1","timestamp":1772366400,"accountData":[]}]`

// scriptedFetcher hands out one batch, then times out like an idle stream
type scriptedFetcher struct {
	calls atomic.Int32
}

func (f *scriptedFetcher) Fetch(batch int, _ ...nats.PullOpt) ([]*nats.Msg, error) {
	if f.calls.Add(1) == 1 {
		return []*nats.Msg{{Subject: "notifications", Data: []byte(notificationBody)}}, nil
	}
	time.Sleep(5 * time.Millisecond)
	return nil, nats.ErrTimeout
}

func newTestConsumer() *NATSConsumer {
	cfg := &config.NATSConfig{MaxPendingMessages: 4, Enabled: true, ConsumeNotifications: true}
	return NewNATSConsumer(nil, cfg, 10, logger.NewNop())
}

func TestFetchLoopStopsAfterStop(t *testing.T) {
	consumer := newTestConsumer()
	fetcher := &scriptedFetcher{}
	consumer.isRunning.Store(true)

	done := make(chan struct{})
	go func() {
		consumer.processJetStreamMessages(fetcher)
		close(done)
	}()

	select {
	case batch := <-consumer.Batches():
		require.Len(t, batch, 1)
		assert.Equal(t, "sig-1", batch[0].Signature)
	case <-time.After(time.Second):
		t.Fatal("no batch delivered")
	}

	require.NoError(t, consumer.Stop())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fetch loop kept running after stop")
	}

	// a second stop is a no-op
	assert.NoError(t, consumer.Stop())
}

func TestStopBeforeStart(t *testing.T) {
	consumer := newTestConsumer()
	assert.NoError(t, consumer.Stop())
	assert.False(t, consumer.isRunning.Load())
}
