package client

import (
	"context"

	"mw-bridge/rpcerr"
	"mw-bridge/service"
)

type result[Resp any] struct {
	resp Resp
	err  error
}

// Call is the blocking form of Invoke. If ctx ends first the call is
// cancelled and ctx's error is returned wrapped as a cancelled error.
func Call[Req, Resp any](ctx context.Context, d *Dispatcher, m service.Method[Req, Resp], req Req, opts ...CallOption) (Resp, error) {
	var zero Resp
	if err := ctx.Err(); err != nil {
		return zero, rpcerr.Wrap(rpcerr.KindCancelled, m.WireName(), err)
	}

	ch := make(chan result[Resp], 1)
	id, err := Invoke(d, m, req, func(resp Resp, err error) {
		ch <- result[Resp]{resp: resp, err: err}
	}, opts...)
	if err != nil {
		return zero, err
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		if d.Cancel(id) {
			return zero, rpcerr.Wrap(rpcerr.KindCancelled, m.WireName(), ctx.Err())
		}
		// Lost the race: the call settled while we were cancelling.
		r := <-ch
		return r.resp, r.err
	}
}
