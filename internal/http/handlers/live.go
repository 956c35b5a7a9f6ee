package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/dashboard-sync/internal/dashboard"
	"github.com/wolfman30/dashboard-sync/internal/query"
	"github.com/wolfman30/dashboard-sync/internal/timeago"
	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

// LiveHandler streams a mounted conversation list over a websocket. Every
// completed refresh is pushed as an "update" frame and relative times are
// re-rendered on the renderer's cadence as "tick" frames.
type LiveHandler struct {
	svc    *dashboard.Service
	clock  timeago.Clock
	logger *logging.Logger
}

// LiveFrame is what the server sends.
type LiveFrame struct {
	Type          string              `json:"type"` // "update", "tick", "error", "expired", "pong"
	View          *dashboard.ListView `json:"view,omitempty"`
	RelativeTimes map[string]string   `json:"relative_times,omitempty"`
	Error         string              `json:"error,omitempty"`
	Redirect      string              `json:"redirect,omitempty"`
}

// liveRequest is what the client sends.
type liveRequest struct {
	Type string `json:"type"` // "ping", "refocus"
}

func NewLiveHandler(svc *dashboard.Service, clock timeago.Clock, logger *logging.Logger) *LiveHandler {
	if clock == nil {
		clock = timeago.SystemClock
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LiveHandler{svc: svc, clock: clock, logger: logger}
}

// HandleWebSocket handles GET /dashboard/live. The list filters and q are
// read from the query string.
func (h *LiveHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *LiveHandler) serveWS(conn *websocket.Conn, r *http.Request) {
	defer conn.Close()

	search := r.URL.Query().Get("q")
	f, err := query.FromValues(r.URL.Query())
	if err != nil {
		_ = websocket.JSON.Send(conn, LiveFrame{Type: "update", View: dashboard.EmptyListView(f.Normalize(), search, err)})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		mu         sync.Mutex
		latest     *dashboard.ListView
		latestErr  error
		notify     = make(chan struct{}, 1)
		inbound    = make(chan liveRequest)
		current    *dashboard.ListView
		tick       <-chan time.Time
		sendFrame  = func(fr LiveFrame) bool { return websocket.JSON.Send(conn, fr) == nil }
		rearmTimer = func() {
			tick = nil
			if d, ok := tickInterval(current, h.clock.Now()); ok {
				tick = h.clock.After(d)
			}
		}
	)

	sub, err := h.svc.Watch(f, search, func(view *dashboard.ListView, err error) {
		mu.Lock()
		if view != nil {
			latest = view
		}
		latestErr = err
		mu.Unlock()
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	if err != nil {
		_ = sendFrame(LiveFrame{Type: "update", View: dashboard.EmptyListView(f, search, err)})
		return
	}
	defer sub.Unsubscribe()

	h.logger.Info("live view mounted", "key", sub.Key(), "remote_ip", r.RemoteAddr)
	defer h.logger.Info("live view released", "key", sub.Key())

	go func() {
		defer cancel()
		for {
			var req liveRequest
			if err := websocket.JSON.Receive(conn, &req); err != nil {
				return
			}
			select {
			case inbound <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-notify:
			mu.Lock()
			view, err := latest, latestErr
			latest, latestErr = nil, nil
			mu.Unlock()

			if errors.Is(err, dashboard.ErrSessionExpired) {
				_ = sendFrame(LiveFrame{Type: "expired", Error: "session expired", Redirect: loginRedirect})
				return
			}
			if view == nil {
				if err != nil && !sendFrame(LiveFrame{Type: "error", Error: "Could not reach the dashboard API. Retrying."}) {
					return
				}
				continue
			}
			current = view
			if !sendFrame(LiveFrame{Type: "update", View: view}) {
				return
			}
			rearmTimer()

		case <-tick:
			if !sendFrame(LiveFrame{Type: "tick", RelativeTimes: relativeTimes(current, h.clock.Now())}) {
				return
			}
			rearmTimer()

		case req := <-inbound:
			switch req.Type {
			case "ping":
				if !sendFrame(LiveFrame{Type: "pong"}) {
					return
				}
			case "refocus":
				h.svc.Refocus()
			}
		}
	}
}

func relativeTimes(view *dashboard.ListView, now time.Time) map[string]string {
	out := make(map[string]string)
	if view == nil {
		return out
	}
	for _, item := range view.Conversations {
		out[item.ID.String()] = timeago.Render(item.CreatedAt.Ptr(), now)
	}
	return out
}

// tickInterval is the shortest renderer cadence among the view's rows. Rows
// without a timestamp never change and do not count.
func tickInterval(view *dashboard.ListView, now time.Time) (time.Duration, bool) {
	if view == nil {
		return 0, false
	}
	var best time.Duration
	for _, item := range view.Conversations {
		ts := item.CreatedAt.Ptr()
		if ts == nil || ts.IsZero() {
			continue
		}
		d := timeago.RefreshInterval(now.Sub(*ts))
		if best == 0 || d < best {
			best = d
		}
	}
	return best, best > 0
}
