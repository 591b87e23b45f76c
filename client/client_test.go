package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAI-Ltd/cerberus/internal/route"
)

func newClient(t *testing.T, id string) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		Addr:             "127.0.0.1:0",
		NodeID:           id,
		DisableDiscovery: true,
		ProofMaxAge:      time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewRejectsUnknownSuite(t *testing.T) {
	_, err := New(context.Background(), Config{NodeID: "x", Suite: "rot13", DisableDiscovery: true})
	assert.Error(t, err)
}

func TestClosedClient(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}
	c := newClient(t, "solo")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Send(context.Background(), "other", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, open := <-c.Deliveries()
	assert.False(t, open)
}

func TestSendThroughRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sender := newClient(t, "drone-1")
	relay := newClient(t, "drone-3")
	base := newClient(t, "base")

	require.NoError(t, sender.Introduce(ctx, relay.Addr()))
	require.NoError(t, relay.Introduce(ctx, base.Addr()))
	sender.AddPeer(base.ID(), base.PublicKey(), base.Addr(), false)
	sender.Link(relay.ID(), base.ID())

	p, err := sender.Route("base")
	require.NoError(t, err)
	assert.Equal(t, route.Path{"drone-1", "drone-3", "base"}, p)

	msgID, err := sender.Send(ctx, "base", []byte("telemetry"))
	require.NoError(t, err)

	select {
	case d := <-base.Deliveries():
		assert.Equal(t, msgID, d.MessageID)
		assert.Equal(t, []byte("telemetry"), d.Payload)
		assert.True(t, d.Verified)
		assert.Equal(t, 1, d.Relays)
	case <-ctx.Done():
		t.Fatal("no delivery")
	}
}
