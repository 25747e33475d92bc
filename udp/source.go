// Package udp contains a UDP source feeding the datagrams it receives to a stage.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/internal"
	"github.com/squadracorsepolito/seda/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultUDPPayloadSize = 1474

	// DatagramKind is the kind of [Datagram].
	DatagramKind = "udp_datagram"
)

// Config is the configuration of a [Source].
type Config struct {
	IPAddr string
	Port   uint16

	// PayloadSize is the size of the read buffer,
	// longer datagrams are truncated.
	PayloadSize int
}

func NewDefaultConfig() *Config {
	return &Config{
		IPAddr:      "127.0.0.1",
		Port:        20_000,
		PayloadSize: defaultUDPPayloadSize,
	}
}

var _ message.Kinded = (*Datagram)(nil)

// Datagram is the payload of a received UDP datagram.
// The tag is its arrival index.
type Datagram struct {
	message.Base

	Data []byte
}

// RawData returns the payload.
func (dg *Datagram) RawData() []byte {
	return dg.Data
}

func (dg *Datagram) Kind() string {
	return DatagramKind
}

// Source reads UDP datagrams and dispatches them to the target stage.
type Source struct {
	tel *internal.Telemetry

	cfg *Config

	d      *seda.Dispatcher
	target string

	conn *net.UDPConn

	// Telemetry metrics
	receivedBytes     metric.Int64Counter
	receivedDatagrams metric.Int64Counter
	refusedDatagrams  metric.Int64Counter
}

// NewSource returns a source sending to the target stage of the dispatcher.
func NewSource(cfg *Config, d *seda.Dispatcher, target string) *Source {
	tel := internal.NewTelemetry("source", "udp")

	return &Source{
		tel: tel,

		cfg: cfg,

		d:      d,
		target: target,

		receivedBytes:     tel.NewCounter("received_bytes"),
		receivedDatagrams: tel.NewCounter("received_datagrams"),
		refusedDatagrams:  tel.NewCounter("refused_datagrams"),
	}
}

// Init opens the UDP socket.
func (s *Source) Init() error {
	parsedAddr, err := netip.ParseAddr(s.cfg.IPAddr)
	if err != nil {
		return err
	}

	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, s.cfg.Port))
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.conn = conn

	s.tel.LogInfo("listening", "address", conn.LocalAddr().String())

	return nil
}

// LocalAddr returns the address of the socket, nil before [Source.Init].
func (s *Source) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run reads datagrams until the context is done or the socket fails.
// A datagram that cannot be dispatched is logged and skipped.
func (s *Source) Run(ctx context.Context) error {
	// Unblocks the read when the context is done
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	payloadSize := s.cfg.PayloadSize
	if payloadSize <= 0 {
		payloadSize = defaultUDPPayloadSize
	}
	buf := make([]byte, payloadSize)

	for tag := 0; ; tag++ {
		n, err := s.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
				return nil
			}

			s.tel.LogError("failed to read connection", err)
			return err
		}

		dg := s.newDatagram(ctx, tag, buf[:n])

		if err := s.d.DispatchTo(s.target, dg); err != nil {
			s.refusedDatagrams.Add(ctx, 1)
			s.tel.LogWarn("failed to dispatch datagram", "target", s.target, "reason", err)
		}
	}
}

func (s *Source) newDatagram(ctx context.Context, tag int, payload []byte) *Datagram {
	_, span := s.tel.NewTrace(ctx, "receive UDP datagram")
	defer span.End()

	data := make([]byte, len(payload))
	copy(data, payload)

	dg := &Datagram{
		Base: message.NewBase(tag, time.Now()),
		Data: data,
	}

	span.SetAttributes(attribute.Int("payload_size", len(data)))
	dg.SaveSpan(span)

	s.receivedBytes.Add(ctx, int64(len(data)))
	s.receivedDatagrams.Add(ctx, 1)

	return dg
}
