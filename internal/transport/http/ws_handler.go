package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/haven-im/haven-server/internal/auth"
	"github.com/haven-im/haven-server/internal/core"
	"github.com/haven-im/haven-server/internal/proto"
	"github.com/haven-im/haven-server/internal/utils"
)

const helloTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	broker    *core.Broker
	auth      *auth.Service
	rateLimit int
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(broker *core.Broker, authService *auth.Service, rateLimit int, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{broker: broker, auth: authService, rateLimit: rateLimit, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ident, ok := h.handshake(ctx, conn)
	if !ok {
		conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	client := core.NewClient(utils.NewID(), ident)
	h.broker.RegisterClient(client)
	defer h.broker.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake reads the hello frame and authenticates the connection. The
// broker never sees an unauthenticated client.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (core.Identity, bool) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var inbound proto.Inbound
	if err := wsjson.Read(ctx, conn, &inbound); err != nil {
		h.log.Debug().Err(err).Msg("read hello")
		return core.Identity{}, false
	}
	if inbound.Type != proto.InboundTypeHello {
		h.writeError(ctx, conn, core.ErrCodeBadRequest, "hello must be the first message")
		return core.Identity{}, false
	}

	var hello proto.HelloData
	if err := json.Unmarshal(inbound.Data, &hello); err != nil || hello.Token == "" {
		h.writeError(ctx, conn, core.ErrCodeUnauthorized, "token is required")
		return core.Identity{}, false
	}

	claims, err := h.auth.ValidateToken(hello.Token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws token rejected")
		h.writeError(ctx, conn, core.ErrCodeUnauthorized, "invalid token")
		return core.Identity{}, false
	}

	return core.Identity{
		ID:          claims.UserID,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
	}, true
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	_ = wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	})
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.rateLimit)
	limiter.startReset(ctx.Done())

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if !limiter.allow() {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: "rate_limited", Msg: "too many messages"},
			}); writeErr != nil {
				return writeErr
			}
			continue
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("conn_id", client.ConnID).Msg("failed to map inbound")
			return err
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
			continue
		}
		if cmd != nil {
			client.Commands <- cmd
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ConnID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
