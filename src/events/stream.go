// Package events streams applied order transitions to browsers over SSE.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/launchdarkly/eventsource"

	"github.com/Oven29/cinema-payments/src/entities"
)

const (
	Channel       = "orders"
	eventName     = "order.transition"
	defaultReplay = 100
)

type transition struct {
	id   string
	data string
}

func (t transition) Id() string    { return t.id }
func (t transition) Event() string { return eventName }
func (t transition) Data() string  { return t.data }

type payload struct {
	OrderID       string    `json:"orderId"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	TransactionNo string    `json:"transactionNo,omitempty"`
	ResponseCode  string    `json:"responseCode,omitempty"`
	At            time.Time `json:"at"`
}

// Stream publishes transitions and keeps the most recent ones for replay to
// reconnecting clients.
type Stream struct {
	srv *eventsource.Server

	mu     sync.Mutex
	recent []transition
	limit  int
}

func NewStream(replay int) *Stream {
	if replay <= 0 {
		replay = defaultReplay
	}
	s := &Stream{srv: eventsource.NewServer(), limit: replay}
	s.srv.ReplayAll = true
	s.srv.Register(Channel, s)
	return s
}

func (s *Stream) PublishTransition(order entities.Order) {
	data, err := json.Marshal(payload{
		OrderID:       order.ID,
		Status:        string(order.Status),
		Amount:        order.Amount.String(),
		TransactionNo: order.TransactionNo,
		ResponseCode:  order.ResponseCode,
		At:            time.Now().UTC(),
	})
	if err != nil {
		return
	}
	ev := transition{id: uuid.NewString(), data: string(data)}

	s.mu.Lock()
	s.recent = append(s.recent, ev)
	if len(s.recent) > s.limit {
		s.recent = s.recent[len(s.recent)-s.limit:]
	}
	s.mu.Unlock()

	s.srv.Publish([]string{Channel}, ev)
}

// Replay implements eventsource.Repository. Events after lastEventID are
// replayed; an unknown or empty id replays everything kept.
func (s *Stream) Replay(channel, lastEventID string) chan eventsource.Event {
	s.mu.Lock()
	events := make([]transition, len(s.recent))
	copy(events, s.recent)
	s.mu.Unlock()

	start := 0
	for i, ev := range events {
		if ev.id == lastEventID {
			start = i + 1
			break
		}
	}

	out := make(chan eventsource.Event, len(events)-start)
	if channel == Channel {
		for _, ev := range events[start:] {
			out <- ev
		}
	}
	close(out)
	return out
}

func (s *Stream) Handler() http.HandlerFunc {
	return s.srv.Handler(Channel)
}

func (s *Stream) Close() {
	s.srv.Close()
}
