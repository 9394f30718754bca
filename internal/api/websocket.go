// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tamzrod/ring-tester/internal/telemetry"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = 30 * time.Second
	wsReadLimit   = 64 * 1024
	wsSendBuffer  = 16
	defaultJogVel = 50.0 // mm/min
)

// Message types on the live socket.
const (
	MsgLiveData         = "live_data"
	MsgConnectionStatus = "connection_status"
	MsgJogForward       = "jog_forward"
	MsgJogBackward      = "jog_backward"
	MsgSetJogSpeed      = "set_jog_speed"
	MsgJogResponse      = "jog_response"
	MsgJogSpeedResponse = "jog_speed_response"
	MsgError            = "error"
)

// Envelope frames every socket message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type jogRequest struct {
	State bool `json:"state"`
}

type jogResponse struct {
	Direction string `json:"direction"`
	State     bool   `json:"state"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
}

type jogSpeedMessage struct {
	Velocity *float64 `json:"velocity"`
}

type jogSpeedResponse struct {
	Velocity float64 `json:"velocity"`
	Success  bool    `json:"success"`
	Message  string  `json:"message,omitempty"`
}

// wsClient is one live socket. Only writePump writes to conn.
type wsClient struct {
	s    *Server
	pid  uuid.UUID
	conn *websocket.Conn
	send chan outbound
	done chan struct{}
	once sync.Once
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade: %v", err)
		return
	}

	c := &wsClient{
		s:    s,
		pid:  uuid.New(),
		conn: conn,
		send: make(chan outbound, wsSendBuffer),
		done: make(chan struct{}),
	}
	feed := s.d.Feed.Subscribe(c.pid)
	log.Printf("api: websocket client connected (client=%s remote=%s)", c.pid, r.RemoteAddr)

	c.queue(MsgConnectionStatus, map[string]bool{"connected": s.d.Link.Connected()})

	go c.writePump(feed)
	c.readPump()
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump owns the client lifetime. When the socket goes away, for any
// reason, jogging is stopped: a jog is only held while its operator is
// connected.
func (c *wsClient) readPump() {
	defer func() {
		c.s.d.Feed.Unsubscribe(c.pid)
		c.close()
		log.Printf("api: websocket client disconnected (client=%s)", c.pid)
		if err := c.s.d.Commands.StopAllJog(); err != nil {
			log.Printf("SAFETY: api: stop all jog after disconnect failed (client=%s): %v", c.pid, err)
			return
		}
		log.Printf("SAFETY: api: stop all jog after disconnect (client=%s)", c.pid)
	}()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("api: websocket read (client=%s): %v", c.pid, err)
			}
			return
		}
		c.handle(raw)
	}
}

func (c *wsClient) writePump(feed <-chan telemetry.Snapshot) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		c.close()
	}()

	for {
		select {
		case snap, ok := <-feed:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if !c.write(outbound{Type: MsgLiveData, Data: snap}) {
				return
			}

		case m := <-c.send:
			if !c.write(m) {
				return
			}

		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *wsClient) write(m outbound) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(m); err != nil {
		log.Printf("api: websocket write (client=%s): %v", c.pid, err)
		return false
	}
	return true
}

// queue hands a reply to writePump. Replies are dropped when the client
// is not draining them.
func (c *wsClient) queue(typ string, data any) {
	select {
	case c.send <- outbound{Type: typ, Data: data}:
	case <-c.done:
	default:
		log.Printf("api: websocket reply dropped (client=%s type=%s)", c.pid, typ)
	}
}

func (c *wsClient) handle(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.queue(MsgError, Response{Message: "malformed message: " + err.Error()})
		return
	}

	switch env.Type {
	case MsgJogForward, MsgJogBackward:
		var req jogRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				c.queue(MsgError, Response{Message: "malformed " + env.Type + ": " + err.Error()})
				return
			}
		}

		dir := "forward"
		jog := c.s.d.Commands.JogForward
		if env.Type == MsgJogBackward {
			dir = "backward"
			jog = c.s.d.Commands.JogBackward
		}
		resp := jogResponse{Direction: dir, State: req.State, Success: true}
		if err := jog(req.State); err != nil {
			log.Printf("api: websocket jog %s (client=%s): %v", dir, c.pid, err)
			resp.Success = false
			resp.Message = reason(err)
		}
		c.queue(MsgJogResponse, resp)

	case MsgSetJogSpeed:
		var req jogSpeedMessage
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				c.queue(MsgError, Response{Message: "malformed " + env.Type + ": " + err.Error()})
				return
			}
		}
		v := defaultJogVel
		if req.Velocity != nil {
			v = *req.Velocity
		}
		applied, err := c.s.d.Commands.SetJogVelocity(v)
		resp := jogSpeedResponse{Velocity: applied, Success: err == nil}
		if err != nil {
			log.Printf("api: websocket jog speed (client=%s): %v", c.pid, err)
			resp.Message = reason(err)
		}
		c.queue(MsgJogSpeedResponse, resp)

	default:
		c.queue(MsgError, Response{Message: "unknown message type " + env.Type})
	}
}
