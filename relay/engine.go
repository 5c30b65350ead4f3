package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"nhooyr.io/websocket"

	"ebillrelay/ratelimit"
	"ebillrelay/storage"
)

var relayEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_events_total",
	Help: "Inbound relay events by result.",
}, []string{"result"})

// Engine is a minimal nostr relay: it verifies and persists EVENT messages
// admitted by the write policy and replays stored events for REQ. There is
// no cross-connection fan-out; subscribers poll by re-issuing REQ.
type Engine struct {
	store  storage.EventStore
	policy *WritePolicy
}

// NewEngine wires the relay engine.
func NewEngine(store storage.EventStore, policy *WritePolicy) *Engine {
	return &Engine{store: store, policy: policy}
}

// ServeWS upgrades the connection and services relay messages until the
// client goes away.
func (e *Engine) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	peer := ratelimit.ClientIP(r)
	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		for _, reply := range e.HandleMessage(ctx, peer, data) {
			if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
				return
			}
		}
	}
}

// HandleMessage processes one client frame and returns the frames to send
// back. Split from the websocket loop so the protocol logic is testable
// without a connection.
func (e *Engine) HandleMessage(ctx context.Context, peer string, raw []byte) [][]byte {
	env := nostr.ParseMessage(raw)
	switch env := env.(type) {
	case *nostr.EventEnvelope:
		return frames(e.handleEvent(ctx, peer, &env.Event))
	case *nostr.ReqEnvelope:
		return e.handleReq(ctx, env)
	case *nostr.CloseEnvelope:
		return frames(&nostr.ClosedEnvelope{SubscriptionID: string(*env)})
	default:
		notice := nostr.NoticeEnvelope("unrecognized message")
		return frames(&notice)
	}
}

func (e *Engine) handleEvent(ctx context.Context, peer string, ev *nostr.Event) nostr.Envelope {
	if ev.GetID() != ev.ID {
		relayEventsTotal.WithLabelValues("invalid").Inc()
		return &nostr.OKEnvelope{EventID: ev.ID, OK: false, Reason: "invalid: id does not match event"}
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		relayEventsTotal.WithLabelValues("invalid").Inc()
		return &nostr.OKEnvelope{EventID: ev.ID, OK: false, Reason: "invalid: bad signature"}
	}

	if allowed, reason := e.policy.Admit(peer, ev); !allowed {
		relayEventsTotal.WithLabelValues("denied").Inc()
		return &nostr.OKEnvelope{EventID: ev.ID, OK: false, Reason: reason}
	}

	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		relayEventsTotal.WithLabelValues("error").Inc()
		return &nostr.OKEnvelope{EventID: ev.ID, OK: false, Reason: "error: could not store event"}
	}
	stored := storage.RelayEvent{
		ID:        ev.ID,
		Pubkey:    ev.PubKey,
		CreatedAt: int64(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      string(tags),
		Content:   ev.Content,
		Sig:       ev.Sig,
	}
	if err := e.store.SaveEvent(ctx, stored); err != nil {
		slog.Error("storing relay event failed", "id", ev.ID, "error", err)
		relayEventsTotal.WithLabelValues("error").Inc()
		return &nostr.OKEnvelope{EventID: ev.ID, OK: false, Reason: "error: could not store event"}
	}
	relayEventsTotal.WithLabelValues("accepted").Inc()
	return &nostr.OKEnvelope{EventID: ev.ID, OK: true}
}

func (e *Engine) handleReq(ctx context.Context, env *nostr.ReqEnvelope) [][]byte {
	var replies [][]byte
	subID := env.SubscriptionID
	for _, filter := range env.Filters {
		events, err := e.store.QueryEvents(ctx, toQuery(filter))
		if err != nil {
			slog.Error("relay event query failed", "error", err)
			continue
		}
		for i := range events {
			ev, err := toNostrEvent(&events[i])
			if err != nil {
				slog.Error("stored relay event unreadable", "id", events[i].ID, "error", err)
				continue
			}
			replies = appendFrame(replies, &nostr.EventEnvelope{SubscriptionID: &subID, Event: *ev})
		}
	}
	eose := nostr.EOSEEnvelope(subID)
	return appendFrame(replies, &eose)
}

func toQuery(f nostr.Filter) storage.EventQuery {
	q := storage.EventQuery{
		IDs:     f.IDs,
		Authors: f.Authors,
		Kinds:   f.Kinds,
		Limit:   f.Limit,
	}
	if f.Since != nil {
		q.Since = int64(*f.Since)
	}
	if f.Until != nil {
		q.Until = int64(*f.Until)
	}
	return q
}

func toNostrEvent(stored *storage.RelayEvent) (*nostr.Event, error) {
	var tags nostr.Tags
	if err := json.Unmarshal([]byte(stored.Tags), &tags); err != nil {
		return nil, err
	}
	return &nostr.Event{
		ID:        stored.ID,
		PubKey:    stored.Pubkey,
		CreatedAt: nostr.Timestamp(stored.CreatedAt),
		Kind:      stored.Kind,
		Tags:      tags,
		Content:   stored.Content,
		Sig:       stored.Sig,
	}, nil
}

func frames(env nostr.Envelope) [][]byte {
	return appendFrame(nil, env)
}

func appendFrame(replies [][]byte, env nostr.Envelope) [][]byte {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("marshal relay reply failed", "error", err)
		return replies
	}
	return append(replies, data)
}
