package conformance

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// relayBehavior controls how a fakeRelay responds to an inbound EVENT.
type relayBehavior int

const (
	// behaviorAck replies ["OK", id, true, ""] to every published event.
	behaviorAck relayBehavior = iota
	// behaviorCloseOnEvent drops the connection as soon as an EVENT arrives.
	behaviorCloseOnEvent
	// behaviorEcho acks and also rebroadcasts the event to every active
	// subscription, emulating a relay that delivers to the publisher's
	// own subscription (the self-loop scenario).
	behaviorEcho
)

// fakeRelay is a minimal in-process stand-in for a Nostr relay: it
// accepts a WebSocket connection, answers REQ with EOSE, and answers
// EVENT according to its configured behavior. Used to exercise the send
// and receive pipelines without a real network relay.
type fakeRelay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	behavior relayBehavior

	mu      sync.Mutex
	clients []*websocket.Conn
	subIDs  []string
}

func newFakeRelay(behavior relayBehavior) *fakeRelay {
	fr := &fakeRelay{behavior: behavior}
	fr.server = httptest.NewServer(http.HandlerFunc(fr.handle))
	return fr
}

func (fr *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(fr.server.URL, "http")
}

func (fr *fakeRelay) close() {
	fr.mu.Lock()
	for _, c := range fr.clients {
		_ = c.Close()
	}
	fr.mu.Unlock()
	fr.server.Close()
}

func (fr *fakeRelay) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fr.mu.Lock()
	fr.clients = append(fr.clients, conn)
	fr.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
			continue
		}
		var label string
		_ = json.Unmarshal(parts[0], &label)

		switch label {
		case "REQ":
			if len(parts) < 2 {
				continue
			}
			var subID string
			_ = json.Unmarshal(parts[1], &subID)
			fr.mu.Lock()
			fr.subIDs = append(fr.subIDs, subID)
			fr.mu.Unlock()
			eose, _ := json.Marshal([]interface{}{"EOSE", subID})
			_ = conn.WriteMessage(websocket.TextMessage, eose)

		case "EVENT":
			if len(parts) < 2 {
				continue
			}
			var ev map[string]interface{}
			_ = json.Unmarshal(parts[1], &ev)
			id, _ := ev["id"].(string)

			switch fr.behavior {
			case behaviorCloseOnEvent:
				_ = conn.Close()
				return
			case behaviorEcho:
				ok, _ := json.Marshal([]interface{}{"OK", id, true, ""})
				_ = conn.WriteMessage(websocket.TextMessage, ok)
				fr.mu.Lock()
				subIDs := append([]string(nil), fr.subIDs...)
				fr.mu.Unlock()
				for _, subID := range subIDs {
					fr.broadcast(subID, parts[1])
				}
			default:
				ok, _ := json.Marshal([]interface{}{"OK", id, true, ""})
				_ = conn.WriteMessage(websocket.TextMessage, ok)
			}

		case "CLOSE":
			// no-op: a real relay would stop delivering to the subid.
		}
	}
}

// broadcast pushes an EVENT frame to every connected client, as if the
// relay itself had received and is now forwarding it to a subscriber.
func (fr *fakeRelay) broadcast(subID string, event json.RawMessage) {
	frame, err := json.Marshal([]interface{}{"EVENT", subID, json.RawMessage(event)})
	if err != nil {
		return
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	for _, c := range fr.clients {
		_ = c.WriteMessage(websocket.TextMessage, frame)
	}
}
