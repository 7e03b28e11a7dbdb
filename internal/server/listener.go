// Package server implements the per-network-IP listener pair: one bound UDP
// socket plus one bound TCP acceptor, sharing a single query pipeline.
package server

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// IdleTimeout is the per-TCP-connection idle timeout between pipelined
// messages.
const IdleTimeout = 3 * time.Second

// UDPBufferSize is sized to tolerate EDNS0 on the wire even though this
// daemon does not itself process EDNS0 options.
const UDPBufferSize = 4096

// ListenerPair owns one bound UDP socket and one bound TCP acceptor for a
// single network bind IP. Both share handler's query pipeline.
type ListenerPair struct {
	IP  netip.Addr
	udp *dns.Server
	tcp *dns.Server
}

// BindPair creates and binds the UDP and TCP sockets for ip:port, without
// yet serving queries. Bind failures are returned to the caller, which
// decides whether a failure is fatal (initial startup) or merely logged (a
// reload adding a new listener). udpHandler and tcpHandler
// are distinct dns.Handler values (typically the same query logic tagged
// with a different transport label) since miekg/dns associates one Handler
// per dns.Server.
func BindPair(ip netip.Addr, port int, udpHandler, tcpHandler dns.Handler, log *zap.Logger) (*ListenerPair, error) {
	addr := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port))

	udpConn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp listener on %s: %w", addr, err)
	}
	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to bind tcp listener on %s: %w", addr, err)
	}

	lp := &ListenerPair{
		IP: ip,
		udp: &dns.Server{
			PacketConn: udpConn,
			Handler:    udpHandler,
			UDPSize:    UDPBufferSize,
		},
		tcp: &dns.Server{
			Listener:    tcpListener,
			Handler:     tcpHandler,
			IdleTimeout: func() time.Duration { return IdleTimeout },
		},
	}
	log.Debug("bound listener pair", zap.String("addr", addr))
	return lp, nil
}

// Serve starts both sockets serving in background goroutines and returns
// immediately. The returned channel receives the error of either server
// that exits with one; it is never closed. Call Shutdown to stop it.
func (lp *ListenerPair) Serve(log *zap.Logger) <-chan error {
	errs := make(chan error, 2)
	go func() {
		if err := lp.udp.ActivateAndServe(); err != nil {
			log.Debug("udp listener exited", zap.String("ip", lp.IP.String()), zap.Error(err))
			errs <- err
		}
	}()
	go func() {
		if err := lp.tcp.ActivateAndServe(); err != nil {
			log.Debug("tcp listener exited", zap.String("ip", lp.IP.String()), zap.Error(err))
			errs <- err
		}
	}()
	return errs
}

// Shutdown gracefully drains in-flight requests and releases both sockets,
// bounded by ctx.
func (lp *ListenerPair) Shutdown(ctx context.Context) {
	_ = lp.udp.ShutdownContext(ctx)
	_ = lp.tcp.ShutdownContext(ctx)
}
