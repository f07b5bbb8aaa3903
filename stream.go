package kvrpc

import (
	"context"
	"encoding/json"
	"io"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"
)

/* =========================
   Streaming calls
   three pumps over one socket:
     sender   requests queue -> socket
     receiver socket -> responses queue
     handler  caller logic over both queues
   the first pump to finish cancels the others; every pump closes both
   queues on exit; the socket is closed on every path
   ========================= */

// StreamHandler is the caller's side of a streaming call. It pushes
// requests and pops responses; closing requests ends the stream.
type StreamHandler[Req, Resp any] func(ctx context.Context, requests *Queue[Req], responses *Queue[Resp]) error

// Stream opens the websocket route bound to id and runs handler against
// it. Only setup failures and cancellation of ctx are returned; errors
// inside the stream are logged and end it.
func Stream[Req, Resp any](ctx context.Context, r *RemoteAgent, id ServiceMethodID, handler StreamHandler[Req, Resp]) error {
	return stream(ctx, r, id, handler, Deserialize[Resp])
}

// StreamList is Stream for routes whose responses are lists.
func StreamList[Req, Resp any](ctx context.Context, r *RemoteAgent, id ServiceMethodID, handler StreamHandler[Req, []Resp]) error {
	return stream(ctx, r, id, handler, DeserializeList[Resp])
}

func stream[Req, Resp any](ctx context.Context, r *RemoteAgent, id ServiceMethodID, handler StreamHandler[Req, Resp], decode func(string) (Resp, error)) error {
	route, err := r.route(id)
	if err != nil {
		return err
	}
	socket := NewSocket(r.opts)
	if err := socket.Connect(ctx, r.StreamURL(route), r.opts.RetryDelay); err != nil {
		return errors.Annotatef(err, "cannot open stream %q", id)
	}
	defer socket.Close()

	requests := NewQueue[Req]()
	responses := NewQueue[Resp]()

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(pumpCtx)

	pump := func(name string, run func(context.Context) error) {
		g.Go(func() error {
			defer func() {
				requests.Close()
				responses.Close()
				cancel()
			}()
			err := run(gctx)
			logger.Debugf("stream %q: %s pump finished: %v", id, name, err)
			return err
		})
	}
	pump("sender", func(ctx context.Context) error {
		return sendPump(ctx, socket, route.Path, requests)
	})
	pump("receiver", func(ctx context.Context) error {
		return receivePump(ctx, r.agent, socket, responses, decode)
	})
	pump("handler", func(ctx context.Context) error {
		runHandler(ctx, id, handler, requests, responses)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warningf("stream %q ended with error: %v", id, err)
	}
	return errors.Trace(ctx.Err())
}

func sendPump[Req any](ctx context.Context, socket *Socket, method string, requests *Queue[Req]) error {
	for {
		v, err := requests.Pop(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		frame, err := json.Marshal(&JSONRPCRequest{
			ID:     StreamRequestID,
			Method: method,
			Params: []*string{Serialize(v)},
		})
		if err != nil {
			return errors.Trace(err)
		}
		if err := socket.Send(ctx, string(frame)); err != nil {
			return err
		}
	}
}

func receivePump[Resp any](ctx context.Context, agent *CallAgent, socket *Socket, responses *Queue[Resp], decode func(string) (Resp, error)) error {
	for {
		msg, err := socket.Receive(ctx)
		if err != nil {
			if IsSocketClosed(err) {
				// end of stream
				return nil
			}
			return err
		}
		var env JSONRPCResponse
		if err := json.Unmarshal([]byte(msg), &env); err != nil {
			return newProtocolError(ErrInvalidResponse, err)
		}
		if env.Error != nil {
			return agent.serviceError(&env)
		}
		if env.Result == nil {
			return newProtocolError(ErrInvalidResponse, nil)
		}
		v, err := decode(*env.Result)
		if err != nil {
			return err
		}
		if err := responses.Push(v); err != nil {
			return nil
		}
	}
}

func runHandler[Req, Resp any](ctx context.Context, id ServiceMethodID, handler StreamHandler[Req, Resp], requests *Queue[Req], responses *Queue[Resp]) {
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("stream %q: handler panic: %v", id, p)
		}
	}()
	if err := handler(ctx, requests, responses); err != nil {
		logger.Warningf("stream %q: handler failed: %v", id, err)
	}
}
