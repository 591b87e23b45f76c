// Package discovery finds neighboring mesh nodes on the local link with mDNS.
// It only reports reachability; identities are confirmed by a Hello exchange.
package discovery

import (
	"net"
	"strconv"
	"strings"

	"github.com/betamos/zeroconf"
	"github.com/samber/oops"
)

const (
	ServiceType = "_cerberus._udp"
	Domain      = "local."

	txtNodeID      = "id="
	txtFingerprint = "fp="
)

// Peer represents a discovered peer on the local network
type Peer struct {
	Name        string
	Addr        string
	Port        int
	NodeID      string
	Fingerprint string
	// Removed is set when the peer's announcement expired or was withdrawn.
	Removed bool
}

// Discovery handles mDNS service discovery for the mesh
type Discovery struct {
	client   *zeroconf.Client
	nodeName string
	port     int
	onPeer   func(Peer)
}

// New publishes this node and browses for peers. onPeer runs for every add
// or removal, except for this node's own announcement.
func New(nodeID string, port int, fingerprint string, onPeer func(Peer)) (*Discovery, error) {
	svcType := zeroconf.NewType(ServiceType)
	port16 := uint16(port)
	if port <= 0 || port > 65535 {
		port16 = 6121
	}
	self := zeroconf.NewService(svcType, nodeID, port16)
	self.Text = []string{txtNodeID + nodeID, txtFingerprint + fingerprint}

	client, err := zeroconf.New().
		Publish(self).
		Browse(func(e zeroconf.Event) {
			handleEvent(e, nodeID, onPeer)
		}, svcType).
		Open()
	if err != nil {
		return nil, oops.In("discovery").Wrapf(err, "zeroconf")
	}

	return &Discovery{
		client:   client,
		nodeName: nodeID,
		port:     port,
		onPeer:   onPeer,
	}, nil
}

func handleEvent(e zeroconf.Event, self string, onPeer func(Peer)) {
	peer := Peer{Name: e.Name, Port: int(e.Port), Removed: e.Op == zeroconf.OpRemoved}
	parseText(e.Text, &peer)
	if peer.NodeID == "" || peer.NodeID == self {
		return
	}

	var addrs []string
	for _, a := range e.Addrs {
		if a.IsValid() {
			addrs = append(addrs, net.JoinHostPort(a.String(), strconv.Itoa(int(e.Port))))
		}
	}
	if len(addrs) == 0 && !peer.Removed {
		return
	}
	peer.Addr = pickAddr(addrs)
	if onPeer != nil {
		onPeer(peer)
	}
}

func parseText(text []string, p *Peer) {
	for _, kv := range text {
		switch {
		case strings.HasPrefix(kv, txtNodeID):
			p.NodeID = strings.TrimPrefix(kv, txtNodeID)
		case strings.HasPrefix(kv, txtFingerprint):
			p.Fingerprint = strings.TrimPrefix(kv, txtFingerprint)
		}
	}
}

// pickAddr prefers IPv4 over IPv6 addresses.
func pickAddr(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	for _, a := range addrs {
		if strings.Count(a, ":") < 2 {
			return a
		}
	}
	return addrs[0]
}

// Close stops discovery
func (d *Discovery) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// ParseAddr splits "host:port"
func ParseAddr(s string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
