// Package transport carries frames between mesh nodes over QUIC.
package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/samber/oops"

	"github.com/SWAI-Ltd/cerberus/internal/proto"
)

// Relay hops are short-lived; a minute of idleness is plenty.
var defaultQuicConfig = &quic.Config{
	MaxIdleTimeout: time.Minute,
}

const (
	AddrLADDR = ":0"
	ProtoID   = "cerberus/1"
)

// Conn wraps a QUIC stream with frame read/write
type Conn struct {
	Stream quic.Stream
	Conn   quic.Connection

	wmu    sync.Mutex
	dialed bool
}

// NewConnWithConn wraps a QUIC stream and connection
func NewConnWithConn(stream quic.Stream, conn quic.Connection) *Conn {
	return &Conn{Stream: stream, Conn: conn}
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	if c.Conn != nil {
		return c.Conn.RemoteAddr().String()
	}
	return "unknown"
}

// Context is cancelled when the stream or its connection goes away.
func (c *Conn) Context() context.Context {
	if c.Stream == nil {
		return context.Background()
	}
	return c.Stream.Context()
}

// SendFrame encodes and sends a frame. Safe for concurrent use.
func (c *Conn) SendFrame(f *proto.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return f.Encode(c.Stream)
}

// RecvFrame reads and decodes a frame
func (c *Conn) RecvFrame(f *proto.Frame) error {
	return f.Decode(c.Stream)
}

// Close closes the stream, and the connection when we dialed it.
func (c *Conn) Close() error {
	err := c.Stream.Close()
	if c.dialed && c.Conn != nil {
		_ = c.Conn.CloseWithError(0, "")
	}
	return err
}

// generateTLSConfig creates a self-signed cert. Peers are authenticated by
// their onion keys, not by TLS.
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{ProtoID},
	}, nil
}

// Server runs a QUIC listener
type Server struct {
	Listener *quic.Listener
	Handler  func(*Conn)
}

// ListenQUIC starts a QUIC server on addr with handler set before accepting.
func ListenQUIC(ctx context.Context, addr string, handler func(*Conn)) (*Server, error) {
	tlsCfg, err := generateTLSConfig()
	if err != nil {
		return nil, oops.In("transport").Wrapf(err, "tls config")
	}
	listener, err := quic.ListenAddr(addr, tlsCfg, defaultQuicConfig)
	if err != nil {
		return nil, oops.In("transport").With("addr", addr).Wrapf(err, "listen")
	}
	s := &Server{Listener: listener, Handler: handler}
	go s.acceptLoop(ctx)
	return s, nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		sess, err := s.Listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || err == quic.ErrServerClosed {
				return
			}
			continue
		}
		go func() {
			stream, err := sess.AcceptStream(ctx)
			if err != nil {
				return
			}
			if s.Handler != nil {
				s.Handler(NewConnWithConn(stream, sess))
			} else {
				io.Copy(io.Discard, stream)
			}
		}()
	}
}

// LocalAddr returns the address of the QUIC listener
func (s *Server) LocalAddr() string {
	return s.Listener.Addr().String()
}

// Close stops accepting connections.
func (s *Server) Close() error {
	return s.Listener.Close()
}

// DialQUIC connects to a QUIC server (skips cert verification, see generateTLSConfig)
func DialQUIC(ctx context.Context, addr string) (*Conn, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ProtoID},
	}
	sess, err := quic.DialAddr(ctx, addr, tlsCfg, defaultQuicConfig)
	if err != nil {
		return nil, oops.In("transport").With("addr", addr).Wrapf(err, "dial")
	}
	stream, err := sess.OpenStreamSync(ctx)
	if err != nil {
		sess.CloseWithError(0, "")
		return nil, oops.In("transport").With("addr", addr).Wrapf(err, "open stream")
	}
	return &Conn{Stream: stream, Conn: sess, dialed: true}, nil
}

// Exchange dials addr, sends f and waits for one reply frame.
func Exchange(ctx context.Context, addr string, f *proto.Frame) (*proto.Frame, error) {
	conn, err := DialQUIC(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.Stream.SetDeadline(deadline)
	}
	if err := conn.SendFrame(f); err != nil {
		return nil, oops.In("transport").With("addr", addr).Wrapf(err, "send frame")
	}
	var reply proto.Frame
	if err := conn.RecvFrame(&reply); err != nil {
		return nil, oops.In("transport").With("addr", addr).Wrapf(err, "read reply")
	}
	return &reply, nil
}
