package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendQueue  = 256
)

// subscription selects update channels by TF and "exchange:token" key. A zero
// field matches anything.
type subscription struct {
	TF  int    `json:"tf"`
	Key string `json:"key"`
}

func (s subscription) matches(tf int, key string) bool {
	return (s.TF == 0 || s.TF == tf) && (s.Key == "" || s.Key == key)
}

// Client is a single websocket peer. With no subscriptions it receives every
// channel.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subMu sync.RWMutex
	subs  map[subscription]bool
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendQueue),
		hub:  h,
		subs: make(map[subscription]bool),
	}
}

func (c *Client) subscribe(s subscription) {
	c.subMu.Lock()
	c.subs[s] = true
	c.subMu.Unlock()
}

func (c *Client) unsubscribe(s subscription) {
	c.subMu.Lock()
	delete(c.subs, s)
	c.subMu.Unlock()
}

// matchesChannel reports whether an update channel is wanted by this client.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	tf, key, ok := parseChannel(channel)
	if !ok {
		return true
	}
	for s := range c.subs {
		if s.matches(tf, key) {
			return true
		}
	}
	return false
}

// parseChannel splits "pub:ob:60s:NSE:26000" into 60 and "NSE:26000".
func parseChannel(channel string) (tf int, key string, ok bool) {
	parts := strings.SplitN(channel, ":", 4)
	if len(parts) != 4 || parts[0] != "pub" || parts[1] != "ob" {
		return 0, "", false
	}
	tf = parseTFStr(parts[2])
	if tf == 0 {
		return 0, "", false
	}
	return tf, parts[3], true
}

// parseTFStr parses "60s" to 60. Anything else gives 0.
func parseTFStr(s string) int {
	s, found := strings.CutSuffix(s, "s")
	if !found || s == "" {
		return 0
	}
	n := 0
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int(ch-'0')
	}
	return n
}

// sendInitialState queues the latest confirmed update of every channel the
// client wants. lastTS (RFC3339Nano) skips entries the client already has.
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		if !c.matchesChannel(channel) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientMsg is a control message from the client:
// {"type":"SUBSCRIBE","tf":60,"key":"NSE:26000"}, {"type":"UNSUBSCRIBE",...}
// or {"ping":<unix ms>}.
type clientMsg struct {
	Type string `json:"type"`
	TF   int    `json:"tf"`
	Key  string `json:"key"`
	Ping int64  `json:"ping"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch strings.ToUpper(msg.Type) {
		case "SUBSCRIBE":
			c.subscribe(subscription{TF: msg.TF, Key: msg.Key})
			c.sendInitialState("")
		case "UNSUBSCRIBE":
			c.unsubscribe(subscription{TF: msg.TF, Key: msg.Key})
		default:
			if msg.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.hub.mu.RLock()
				select {
				case c.send <- pong:
				default:
				}
				c.hub.mu.RUnlock()
			}
		}
	}
}
