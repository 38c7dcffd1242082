package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"marketdata/internal/logger"
	"marketdata/internal/subscription"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// streamBuffer is how many updates a slow client may lag before it misses some.
	streamBuffer = 8
)

// handleStream pushes every poll result for the requested symbols until the
// client goes away or the server shuts down.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	symbols := splitCSV(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeError(w, r, http.StatusBadRequest, "symbols parameter is required", nil)
		return
	}
	if len(symbols) > s.maxSymbols {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("too many symbols (max %d)", s.maxSymbols), nil)
		return
	}
	// Reject bad input while a plain HTTP error can still be sent.
	for _, raw := range symbols {
		if _, err := s.facade.Normalize(raw); err != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid symbol %q", raw), nil)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		logger.Warn(r.Context(), "websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	updates := make(chan subscription.Update, streamBuffer)
	h, err := s.manager.Subscribe(symbols, func(u subscription.Update) {
		select {
		case updates <- u:
		default:
		}
	})
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}
	defer h.Unsubscribe()
	logger.Info(r.Context(), "stream opened", "key", h.Key, "subscription", h.ID)

	// The read loop only watches for close frames and keeps pongs flowing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			logger.Info(r.Context(), "stream closed", "key", h.Key, "subscription", h.ID)
			return
		case <-s.quit:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case u := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				logger.Warn(r.Context(), "stream write failed", "key", h.Key, "error", err.Error())
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
