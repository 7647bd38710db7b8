package api

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nexadex/swapflow/internal/messaging"
	"github.com/nexadex/swapflow/internal/order"
	"github.com/nexadex/swapflow/internal/queue"
	"github.com/nexadex/swapflow/internal/stream"
	"github.com/nexadex/swapflow/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// errorFrame is the rejection payload sent before closing the stream.
type errorFrame struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Timestamp int64 `json:"timestampMs"`
}

func newErrorFrame(code, message string) errorFrame {
	var frame errorFrame
	frame.Error.Code = code
	frame.Error.Message = message
	frame.Timestamp = time.Now().UnixMilli()
	return frame
}

// swapStream upgrades the request to a websocket, reads the submission as
// the first client frame and, when valid, persists the order in pending,
// enqueues its job and keeps the connection attached for status events.
func (s *Server) swapStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}

	var req order.Submission
	if err := json.Unmarshal(payload, &req); err != nil {
		s.reject(conn, "submission must be a JSON object")
		return
	}
	if err := order.ValidateSubmission(req, s.cfg.Executor.MaxSlippage); err != nil {
		e, _ := errors.As(err)
		s.reject(conn, e.Message)
		return
	}

	// Default slippage applies when the caller leaves it out; the result
	// is re-checked against the configured ceiling.
	slippage := s.cfg.Executor.DefaultSlippage
	if req.Slippage != nil {
		slippage = *req.Slippage
	}
	if slippage < 0 || slippage > s.cfg.Executor.MaxSlippage {
		s.reject(conn, "slippage must be within the configured bounds")
		return
	}

	o := &order.Order{
		TokenIn:  req.TokenIn,
		TokenOut: req.TokenOut,
		AmountIn: int64(math.Floor(req.Amount)),
		Slippage: slippage,
	}
	ctx := c.Request.Context()
	if err := s.store.Create(ctx, o); err != nil {
		s.logger.Error("order creation failed", zap.Error(err))
		s.rejectWithCode(conn, "SYSTEM_ERROR", "order could not be persisted")
		return
	}
	orderID := o.ID.String()
	log := s.logger.With(zap.String("orderId", orderID))

	sub := stream.NewWSSubscriber(conn)
	s.hub.Attach(orderID, sub)

	// First frame: the accepted order in pending.
	first, _ := json.Marshal(stream.Event{
		OrderID:   orderID,
		Status:    order.StatusPending,
		Timestamp: time.Now().UnixMilli(),
	})
	if err := sub.Send(first); err != nil {
		log.Warn("initial pending frame not delivered", zap.Error(err))
	}

	job := queue.Job{
		OrderID:  orderID,
		TokenIn:  o.TokenIn,
		TokenOut: o.TokenOut,
		AmountIn: o.AmountIn,
		Slippage: o.Slippage,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		log.Error("enqueue failed", zap.Error(err))
		reason := "order could not be enqueued"
		_ = s.store.UpdateStatus(ctx, o.ID, order.StatusFailed, order.Patch{FailureReason: &reason})
		s.hub.Emit(orderID, order.StatusFailed, map[string]interface{}{"error": reason})
		s.hub.DetachAll(orderID)
		return
	}

	// Idempotent with the first frame for this subscriber; reaches any
	// other subscribers of the same order.
	s.hub.Emit(orderID, order.StatusPending, nil)
	s.publisher.Publish(ctx, messaging.LifecycleEvent{
		OrderID:   orderID,
		Status:    order.StatusPending,
		Timestamp: time.Now().UnixMilli(),
	})
	log.Info("order submitted",
		zap.String("tokenIn", o.TokenIn),
		zap.String("tokenOut", o.TokenOut),
		zap.Int64("amountIn", o.AmountIn),
		zap.Float64("slippage", o.Slippage))

	// Drain client frames to surface disconnects; the hub prunes us when
	// the connection dies.
	go func() {
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Detach(orderID, sub)
				return
			}
		}
	}()
}

func (s *Server) reject(conn *websocket.Conn, message string) {
	s.rejectWithCode(conn, "VALIDATION_ERROR", message)
}

func (s *Server) rejectWithCode(conn *websocket.Conn, code, message string) {
	frame := newErrorFrame(code, message)
	payload, _ := json.Marshal(frame)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(5*time.Second))
	_ = conn.Close()
}
