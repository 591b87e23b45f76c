package mesh

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/identity"
)

func startQUICNode(t *testing.T, id identity.NodeID, deliveries chan<- Delivery) *Node {
	t.Helper()
	suite := crypto.NewNaCl()
	ident, err := identity.Generate(id, suite, rand.Reader)
	require.NoError(t, err)
	n, err := NewNode(context.Background(), Config{
		Identity:         ident,
		Suite:            suite,
		Addr:             "127.0.0.1:0",
		DisableDiscovery: true,
		HopTimeout:       5 * time.Second,
		OnDeliver:        func(d Delivery) { deliveries <- d },
	})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func TestQUICRelayLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}
	deliveries := make(chan Delivery, 4)
	a := startQUICNode(t, "A", deliveries)
	r := startQUICNode(t, "R", deliveries)
	f := startQUICNode(t, "F", deliveries)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, a.Introduce(ctx, r.Addr()))
	require.NoError(t, r.Introduce(ctx, f.Addr()))
	// A learns F's key out of band; the link A-R-F comes from hellos.
	a.AddPeer(Entry{Peer: f.id.Peer(), Addr: f.Addr()}, false)
	a.Topology().Link("R", "F")

	msgID, path, err := a.Send(ctx, "F", []byte("over quic"))
	require.NoError(t, err)
	assert.Equal(t, "A->R->F", path.String())

	select {
	case d := <-deliveries:
		assert.Equal(t, msgID, d.MessageID)
		assert.Equal(t, []byte("over quic"), d.Payload)
		assert.True(t, d.Audit.OK())
		require.Len(t, d.Audit.Verified, 1)
		assert.True(t, d.Audit.Verified[0].Equal(r.PublicKey()))
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}
