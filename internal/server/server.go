// Package server accepts advisor connections and dispatches transactions.
// Each connection carries exactly one transaction: read until the terminal
// record, act, write one JSON reply, close.
package server

import (
	"context"
	"encoding/json"
	"net"

	"kuroko/internal/config"
	"kuroko/internal/experience"
	"kuroko/internal/model"
	"kuroko/internal/observer"
	"kuroko/internal/plan"
	"kuroko/internal/protocol"
	"kuroko/internal/search"
	"kuroko/internal/util"
)

// Server owns the listener and the serving-path collaborators.
type Server struct {
	cfg      config.Config
	framer   *protocol.Framer
	registry *model.Registry
	feat     plan.Featurizer
	exp      *experience.Store
	search   *search.Store
	sink     observer.Sink
}

// New wires a server from its collaborators. sink may be nil.
func New(cfg config.Config, reg *model.Registry, feat plan.Featurizer, exp *experience.Store, sess *search.Store, sink observer.Sink) *Server {
	if sink == nil {
		sink = observer.NopSink{}
	}
	return &Server{
		cfg:      cfg,
		framer:   protocol.NewFramer(cfg.Delimiter, cfg.MaxCandidates),
		registry: reg,
		feat:     feat,
		exp:      exp,
		search:   sess,
		sink:     sink,
	}
}

// Serve accepts connections on lis until ctx is cancelled. Each connection is
// handled on its own goroutine.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		util.CloseWithErr(lis, "listener")
	}()
	util.Infof("advisor listening on %s", lis.Addr())
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer util.CloseWithErr(conn, "conn")
	tx, err := s.framer.ReadTransaction(conn)
	if err != nil {
		if err == protocol.ErrAbandoned {
			util.Detailf("peer %s closed before terminal record", conn.RemoteAddr())
			return
		}
		// Protocol errors are connection-fatal: log and close, no reply.
		util.Warnf("read transaction from %s: %v", conn.RemoteAddr(), err)
		return
	}
	reply := s.dispatch(ctx, tx)
	s.writeReply(conn, reply)
}

func (s *Server) writeReply(conn net.Conn, reply any) {
	data, err := json.Marshal(reply)
	if err != nil {
		util.Errorf("encode reply: %v", err)
		return
	}
	data = append(data, []byte(s.cfg.Delimiter)...)
	if _, err := conn.Write(data); err != nil {
		util.Warnf("write reply to %s: %v", conn.RemoteAddr(), err)
	}
}
