package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/auth"
	"github.com/DoyleJ11/skygames-rooms/internal/broadcast"
	"github.com/DoyleJ11/skygames-rooms/internal/presence"
	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	clearTimeout = 2 * time.Second
)

// HostRenewer keeps a connected host's rooms alive. *room.Registry satisfies it.
type HostRenewer interface {
	RenewHostedRooms(ctx context.Context, hostID string) (int, error)
}

// Handler serves /ws/presence: a feed of the caller's friends' activity
// deltas. Clients may also report start/stop playing over the socket.
type Handler struct {
	Broadcaster    *broadcast.Broadcaster
	Presence       *presence.Tracker
	Rooms          HostRenewer // optional; renewed after every successful ping
	OriginPatterns []string
	PingInterval   time.Duration
	Log            *zap.Logger
}

// OriginPatterns turns CORS origins ("http://localhost:3000") into host
// patterns accepted by websocket.AcceptOptions.
func OriginPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r.Context())
	if uid == "" {
		http.Error(w, "no user", http.StatusUnauthorized)
		return
	}
	log := h.Log.With(zap.String("user_id", uid))

	sub, err := h.Broadcaster.Subscribe(r.Context(), uid)
	if err != nil {
		log.Warn("subscribe failed", zap.Error(err))
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Writer goroutine
	go h.writeLoop(ctx, cancel, conn, sub, uid, log)

	var playing string
	defer func() {
		if playing == "" {
			return
		}
		cctx, ccancel := context.WithTimeout(context.WithoutCancel(r.Context()), clearTimeout)
		defer ccancel()
		if _, _, err := h.Presence.ClearIfPlaying(cctx, uid, playing); err != nil {
			log.Warn("clear on disconnect failed", zap.String("game_id", playing), zap.Error(err))
		}
	}()

	// Reader loop
	for {
		var cm types.ClientMessage
		if err := wsjson.Read(ctx, conn, &cm); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		switch cm.Type {
		case types.MsgStartPlaying:
			if cm.GameID == "" {
				h.writeError(ctx, conn, "missing gameId")
				continue
			}
			if _, err := h.Presence.StartPlaying(ctx, uid, cm.GameID); err != nil {
				h.writeError(ctx, conn, err.Error())
				continue
			}
			playing = cm.GameID

		case types.MsgStopPlaying:
			if _, err := h.Presence.ClearActivity(ctx, uid); err != nil {
				h.writeError(ctx, conn, err.Error())
				continue
			}
			playing = ""

		default:
			h.writeError(ctx, conn, "unknown type")
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *broadcast.Subscription, uid string, log *zap.Logger) {
	defer cancel()

	interval := h.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case d, ok := <-sub.C:
			if !ok {
				// Dropped as a slow consumer; the client polls and reconnects.
				log.Info("feed closed, disconnecting")
				_ = conn.Close(websocket.StatusTryAgainLater, "feed dropped")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			wd := d.Wire()
			err := wsjson.Write(wctx, conn, types.ServerMessage{Type: types.MsgActivityUpdate, Delta: &wd})
			wcancel()
			if err != nil {
				return
			}

		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
			h.renew(ctx, uid, log)
		}
	}
}

func (h *Handler) renew(ctx context.Context, uid string, log *zap.Logger) {
	if h.Rooms == nil {
		return
	}
	if n, err := h.Rooms.RenewHostedRooms(ctx, uid); err != nil {
		log.Debug("room renew failed", zap.Error(err))
	} else if n > 0 {
		log.Debug("rooms renewed", zap.Int("count", n))
	}
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(wctx, conn, types.ServerMessage{Type: types.MsgError, Error: msg})
}
