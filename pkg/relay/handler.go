package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"bournemouth-hq/relay/pkg/service"
	"bournemouth-hq/relay/pkg/telemetry/metrics"
)

const missingTokenMessage = "missing OpenRouter token"

// IdentityFunc extracts the authenticated user from the upgrade
// request. The second return is false when the request carries no
// usable identity, in which case the upgrade is rejected with 401.
type IdentityFunc func(r *http.Request) (string, bool)

// CredentialResolver looks up the upstream credential for a user. An
// empty string with a nil error means the user has not stored a
// credential yet, which is a normal outcome, not an error.
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, user string) (string, error)
}

// Config tunes per-connection behavior.
type Config struct {
	// CloseOnUpstreamError closes the whole connection with status
	// 1011 when a transaction fails upstream, instead of scoping the
	// failure to that transaction with a terminal frame.
	CloseOnUpstreamError bool
}

// Handler upgrades chat requests to WebSocket connections and
// multiplexes concurrent transactions over each connection.
type Handler struct {
	service  *service.Service
	creds    CredentialResolver
	identity IdentityFunc
	config   Config
	metrics  *metrics.RelayMetrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds a Handler. metrics may be nil.
func NewHandler(svc *service.Service, creds CredentialResolver, identity IdentityFunc, cfg Config, m *metrics.RelayMetrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  svc,
		creds:    creds,
		identity: identity,
		config:   cfg,
		metrics:  m,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(ws)
	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		defer h.metrics.ActiveConnections.Dec()
	}
	h.serve(r.Context(), c, user)
}

// serve runs the read loop until the peer disconnects or a protocol
// violation occurs, then cancels outstanding transactions and waits
// for them to finish.
func (h *Handler) serve(parent context.Context, c *conn, user string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c.setState(StateRunning)
	log := h.logger.With("user", user)
	log.Debug("chat connection open")

	var wg sync.WaitGroup
	defer func() {
		c.setState(StateDraining)
		cancel()
		wg.Wait()
		c.setState(StateClosed)
		c.ws.Close()
		log.Debug("chat connection closed")
	}()

	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, io.EOF) {
				log.Debug("chat connection read failed", "error", err)
			}
			return
		}
		if req.TransactionID == "" {
			// A frame without a transaction id cannot be answered.
			c.closeAbnormal(websocket.ClosePolicyViolation, "missing transaction_id")
			return
		}

		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			h.runTransaction(ctx, c, user, req)
		}(req)
	}
}

// runTransaction services one chat request end to end: resolve the
// credential, open the upstream stream, and relay fragments until the
// upstream reports a finish reason.
func (h *Handler) runTransaction(ctx context.Context, c *conn, user string, req Request) {
	log := h.logger.With("user", user, "transaction_id", req.TransactionID)
	if h.metrics != nil {
		h.metrics.ActiveTransactions.Inc()
		defer h.metrics.ActiveTransactions.Dec()
	}

	apiKey, err := h.creds.ResolveCredential(ctx, user)
	if err != nil {
		log.Error("credential lookup failed", "error", err)
		h.terminal(ctx, c, req.TransactionID, "internal error")
		return
	}
	if apiKey == "" {
		h.terminal(ctx, c, req.TransactionID, missingTokenMessage)
		return
	}

	messages := BuildHistory(req.Message, req.History)
	stream, err := h.service.StreamChatCompletion(ctx, apiKey, messages, req.Model)
	if err != nil {
		h.upstreamFailure(ctx, c, log, req.TransactionID, err)
		return
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Upstream ended without a finish reason. The original
				// backend emits nothing further in this case.
				return
			}
			if ctx.Err() != nil {
				return
			}
			h.upstreamFailure(ctx, c, log, req.TransactionID, err)
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if err := h.emit(ctx, c, Response{
				TransactionID: req.TransactionID,
				Fragment:      choice.Delta.Content,
			}, "fragment"); err != nil {
				return
			}
		}
		if choice.FinishReason != nil {
			h.emit(ctx, c, Response{
				TransactionID: req.TransactionID,
				Finished:      true,
			}, "finished")
			return
		}
	}
}

// upstreamFailure applies the configured error policy: scope the
// failure to the transaction, or close the connection outright.
func (h *Handler) upstreamFailure(ctx context.Context, c *conn, log *slog.Logger, txID string, err error) {
	if h.metrics != nil {
		h.metrics.TransactionErrors.Inc()
	}

	var timeout *service.TimeoutError
	var gateway *service.BadGatewayError
	switch {
	case errors.As(err, &timeout):
		log.Warn("chat transaction timed out", "error", err)
	case errors.As(err, &gateway):
		log.Warn("chat transaction failed upstream", "error", err)
	case errors.Is(err, service.ErrDraining):
		log.Info("chat transaction rejected, pool draining")
	default:
		log.Error("chat transaction failed", "error", err)
		h.terminal(ctx, c, txID, "internal error")
		return
	}

	if h.config.CloseOnUpstreamError {
		c.closeAbnormal(websocket.CloseInternalServerErr, "upstream failure")
		return
	}
	h.terminal(ctx, c, txID, "upstream failure")
}

// terminal sends the finished frame carrying a final message, used for
// outcomes like a missing stored credential or a failed transaction.
func (h *Handler) terminal(ctx context.Context, c *conn, txID, message string) {
	h.emit(ctx, c, Response{
		TransactionID: txID,
		Fragment:      message,
		Finished:      true,
	}, "terminal")
}

// emit writes one frame unless the connection context is already
// cancelled. No frame may be written after teardown begins.
func (h *Handler) emit(ctx context.Context, c *conn, resp Response, kind string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := c.send(resp); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.Frames.WithLabelValues(kind).Inc()
	}
	return nil
}
