package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"mw-bridge/codec"
	"mw-bridge/message"
	"mw-bridge/protocol"
)

// streamConn is the server end of one framed byte stream. It is also the
// event sink for that client.
type streamConn struct {
	svr     *Server
	rwc     io.ReadWriteCloser
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex // shared by all request goroutines and event pushes on this conn

	closeOnce sync.Once
}

// ServeConn serves one framed stream until it closes. Reads are sequential
// (frame boundaries depend on it); each request is handled on its own
// goroutine so a slow command does not hold up the rest.
func (svr *Server) ServeConn(rwc io.ReadWriteCloser) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &streamConn{svr: svr, rwc: rwc, ctx: ctx, cancel: cancel}

	svr.mu.Lock()
	svr.conns[c] = struct{}{}
	svr.mu.Unlock()
	removeSink := svr.events.add(c)

	defer func() {
		removeSink()
		svr.mu.Lock()
		delete(svr.conns, c)
		svr.mu.Unlock()
		c.close()
	}()

	logger := svr.logger
	if nc, ok := rwc.(net.Conn); ok {
		logger = logger.With(zap.Stringer("remote", nc.RemoteAddr()))
	}
	logger.Debug("client connected")

	for {
		header, body, err := protocol.DecodeLimit(rwc, svr.maxBodySize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrClosed) {
				logger.Warn("connection dropped", zap.Error(err))
			} else {
				logger.Debug("client disconnected")
			}
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeRequest:
			if body, err = protocol.Decompress(header, body, svr.maxBodySize); err != nil {
				logger.Warn("bad request frame", zap.Uint32("seq", header.Seq), zap.Error(err))
				return
			}
			go c.handleRequest(header, body)
		default:
			logger.Warn("unexpected frame from client", zap.Stringer("type", header.MsgType))
		}
	}
}

// handleRequest decodes one request, runs it through the chain and writes
// the reply with the request's Seq, which is how the client matches it.
func (c *streamConn) handleRequest(header *protocol.Header, body []byte) {
	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	var req message.Envelope
	var resp *message.Envelope
	if err := cdc.Decode(body, &req); err != nil {
		resp = &message.Envelope{Error: "decode envelope: " + err.Error()}
	} else {
		resp = c.svr.serve(c.ctx, &req)
	}

	result, err := cdc.Encode(resp)
	if err != nil {
		c.svr.logger.Error("failed to encode reply", zap.String("method", req.Method), zap.Error(err))
		result, _ = cdc.Encode(message.Fail(&req, "encode reply: "+err.Error()))
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	if err := c.write(&replyHeader, result); err != nil {
		c.svr.logger.Debug("failed to write reply", zap.String("method", req.Method), zap.Error(err))
	}
}

func (c *streamConn) write(h *protocol.Header, body []byte) error {
	body, err := protocol.Compress(h, body, c.svr.compressThreshold)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.Encode(c.rwc, h, body)
}

// Emit pushes one event frame to the client.
func (c *streamConn) Emit(payload []byte) error {
	return c.write(&protocol.Header{
		CodecType: protocol.CodecTypeBinary,
		MsgType:   protocol.MsgTypeEvent,
	}, payload)
}

func (c *streamConn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.rwc.Close()
	})
}

// ServeFIFO serves a client over two named pipes: requests are read from
// requestPath and replies and events written to responsePath. It blocks
// until the client closes its end.
func (svr *Server) ServeFIFO(requestPath, responsePath string) error {
	if svr.shutdown.Load() {
		return ErrServerClosed
	}
	r, err := os.OpenFile(requestPath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	w, err := os.OpenFile(responsePath, os.O_WRONLY, 0)
	if err != nil {
		r.Close()
		return err
	}
	svr.ServeConn(protocol.JoinPipes(r, w))
	return nil
}
