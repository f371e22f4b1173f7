/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/telemetry"
)

// sessionMessage is one frame pushed down the session socket.
type sessionMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// sessionCommand is one transport frame received from a session.
type sessionCommand struct {
	Action     string `json:"action"`
	PositionMs int64  `json:"position_ms,omitempty"`
	Volume     int    `json:"volume,omitempty"`
}

// handleSessionSocket streams the unified snapshot to a listener session
// and accepts transport commands back. Commands run through the engine,
// which broadcasts the resulting transition, so every other session of
// the same listener converges on it.
func (a *API) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WSSessionsActive.Inc()
	defer telemetry.WSSessionsActive.Dec()

	// Every engine-side transition lands on one of these.
	eventTypes := []events.EventType{
		events.EventStateUpdated,
		events.EventTrackChanged,
		events.EventVolumeChanged,
		events.EventQueueUpdated,
		events.EventDuckStarted,
		events.EventDuckEnded,
	}
	subs := make(map[events.EventType]events.Subscriber, len(eventTypes))
	for _, et := range eventTypes {
		subs[et] = a.bus.Subscribe(et)
	}
	defer func() {
		for et, sub := range subs {
			a.bus.Unsubscribe(et, sub)
		}
	}()

	ctx := r.Context()
	a.logger.Debug().Msg("session socket connected")

	// Full picture up front; after this, frames follow transitions.
	if err := a.writeSessionMessage(ctx, conn, "state", a.engine.State()); err != nil {
		return
	}
	if err := a.writeSessionMessage(ctx, conn, "queue", a.snapshotQueue()); err != nil {
		return
	}

	done := make(chan struct{})
	commandCh := make(chan sessionCommand, 16)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) == ws.StatusNormalClosure {
					return
				}
				a.logger.Debug().Err(err).Msg("session socket read error")
				return
			}

			var cmd sessionCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				a.logger.Warn().Err(err).Msg("invalid session socket message")
				continue
			}

			select {
			case commandCh <- cmd:
			default:
				a.logger.Warn().Msg("session command channel full, dropping message")
			}
		}
	}()

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			if err := a.writeSessionMessage(ctx, conn, "ping", nil); err != nil {
				a.logger.Debug().Err(err).Msg("session socket ping failed")
				return
			}

		case cmd := <-commandCh:
			a.applySessionCommand(ctx, conn, cmd)

		default:
			idle := true
			for et, sub := range subs {
				select {
				case payload := <-sub:
					idle = false
					if err := a.forwardSessionEvent(ctx, conn, et, payload); err != nil {
						a.logger.Debug().Err(err).Msg("session socket write failed")
						return
					}
				default:
				}
			}
			if idle {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

// forwardSessionEvent turns a bus event into a socket frame. State and
// volume transitions re-send the whole unified snapshot so sessions
// never have to patch partial updates together.
func (a *API) forwardSessionEvent(ctx context.Context, conn *ws.Conn, et events.EventType, payload events.Payload) error {
	switch et {
	case events.EventStateUpdated, events.EventTrackChanged, events.EventVolumeChanged:
		return a.writeSessionMessage(ctx, conn, "state", a.engine.State())
	case events.EventQueueUpdated:
		return a.writeSessionMessage(ctx, conn, "queue", a.snapshotQueue())
	default:
		return a.writeSessionMessage(ctx, conn, string(et), payload)
	}
}

func (a *API) applySessionCommand(ctx context.Context, conn *ws.Conn, cmd sessionCommand) {
	var err error
	switch cmd.Action {
	case "play":
		err = a.engine.Play(ctx)
	case "pause":
		err = a.engine.Pause(ctx)
	case "next":
		err = a.engine.Next(ctx)
	case "previous":
		err = a.engine.Previous(ctx)
	case "seek":
		err = a.engine.SeekMs(ctx, cmd.PositionMs)
	case "set_volume":
		err = a.engine.SetVolume(ctx, cmd.Volume)
	case "pong":
		return
	default:
		a.logger.Warn().Str("action", cmd.Action).Msg("unknown session command")
		return
	}

	if err != nil {
		a.logger.Warn().Err(err).Str("action", cmd.Action).Msg("session command failed")
		a.writeSessionError(ctx, conn, cmd.Action, err)
	}
}

func (a *API) writeSessionMessage(ctx context.Context, conn *ws.Conn, msgType string, payload any) error {
	msg := sessionMessage{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

func (a *API) writeSessionError(ctx context.Context, conn *ws.Conn, action string, cmdErr error) {
	// Best effort; a session that cannot receive the error frame is
	// about to fail its reads anyway.
	_ = a.writeSessionMessage(ctx, conn, "error", map[string]string{
		"action":  action,
		"message": cmdErr.Error(),
	})
}
