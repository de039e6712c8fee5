// Package client owns the connection to the session endpoint: it dials the
// websocket, decodes inbound frames into session actions, and serializes
// outbound user intents back onto the wire.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"gittyup-client/internal/models"
	"gittyup-client/internal/protocol"
	"gittyup-client/internal/repo"
	"gittyup-client/internal/session"
)

// Controller bridges one websocket connection and the session store. It is
// safe for concurrent use; at most one connection is live at a time, and a
// new Connect supersedes the previous read loop via a generation counter.
type Controller struct {
	store  *session.Store
	server string
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	generation int
}

// NewController creates a controller that dials sessions on the given
// server base URL (http:// or https://; the scheme is mapped to ws/wss).
func NewController(store *session.Store, server string) *Controller {
	return &Controller{
		store:  store,
		server: server,
		dialer: websocket.DefaultDialer,
	}
}

// wsConn adapts a websocket connection to the session transport.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// SessionURL resolves a user-entered repository reference against the
// server base into the websocket URL to dial.
func (c *Controller) SessionURL(rawRef, name string) (string, error) {
	ref, err := repo.NormalizeRef(rawRef)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(c.server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch base.Scheme {
	case "http", "ws":
		base.Scheme = "ws"
	case "https", "wss":
		base.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", base.Scheme)
	}
	base.Path = "/v1/repo/" + ref
	base.RawQuery = url.Values{"name": {name}}.Encode()
	return base.String(), nil
}

// Connect dials the session for the given repository reference, joining as
// name. On success the controller's read loop feeds the store until the
// socket closes or Disconnect is called.
func (c *Controller) Connect(ctx context.Context, rawRef, name string) error {
	wsURL, err := c.SessionURL(rawRef, name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.closeLocked()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		conn.Close()
		return errors.New("connection superseded")
	}
	c.conn = conn
	c.mu.Unlock()

	transport := &wsConn{conn: conn}
	if err := c.store.Dispatch(session.BeginConnect{URL: wsURL, Transport: transport}); err != nil {
		return err
	}
	if err := c.store.Dispatch(session.TransportEstablished{}); err != nil {
		return err
	}

	go c.readLoop(conn, gen)
	return nil
}

// Disconnect closes the active connection and resets the session.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.closeLocked()
	c.generation++
	c.mu.Unlock()

	if err := c.store.Dispatch(session.Disconnect{}); err != nil {
		log.Printf("client: dispatch disconnect: %v", err)
	}
}

func (c *Controller) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// current reports whether the given read loop still owns the session.
func (c *Controller) current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

func (c *Controller) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.current(gen) {
				return
			}
			c.mu.Lock()
			c.closeLocked()
			c.generation++
			c.mu.Unlock()

			reason := err.Error()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = ""
			}
			c.dispatch(session.Disconnect{Err: reason})
			c.dispatch(session.AppendLog{
				Entry: models.Segment("Connection closed", models.ClassSocket),
			})
			return
		}
		if !c.current(gen) {
			return
		}
		c.handleFrame(string(data))
	}
}

// handleFrame decodes one inbound frame and applies it. Malformed or
// unrecognized frames degrade to opaque console lines; they never tear the
// session down.
func (c *Controller) handleFrame(raw string) {
	env, err := protocol.Decode(raw)
	if err != nil {
		log.Printf("client: %v", err)
		c.dispatch(session.AppendLog{Entry: models.Segment(raw, models.ClassSystem)})
		return
	}

	switch p := env.Payload.(type) {
	case protocol.ChatPayload:
		c.dispatch(session.ChatReceived{UserID: env.SenderID, Content: p.Content})

	case protocol.JoinPayload:
		c.dispatch(session.UserJoined{User: p.User})

	case protocol.LeavePayload:
		c.dispatch(session.UserLeft{ID: env.SenderID})

	case protocol.LLMDeltaPayload:
		c.dispatch(session.StreamDelta{CorrelationID: p.ID, Text: p.Content})

	case protocol.UpdateMetadataPayload:
		c.dispatch(session.UpdateUserMetadata{ID: env.SenderID, Name: p.Name, ActiveFile: p.ActiveFile})

	case protocol.WelcomePayload:
		err := c.store.Dispatch(session.Initialize{
			CurrentUserID: env.SenderID,
			Users:         p.Users,
			Files:         p.Files,
			RepoHash:      p.RepoHash,
			Commit:        p.CurrentCommit,
		})
		if err != nil {
			// A welcome that does not identify us is unrecoverable for
			// this connection.
			log.Printf("client: %v", err)
			c.Disconnect()
			c.dispatch(session.AppendLog{
				Entry: models.Segment(fmt.Sprintf("Connection error: %v", err), models.ClassError),
			})
		}

	case protocol.UnknownPayload:
		c.dispatch(session.AppendLog{Entry: models.Segment(raw, models.ClassSystem)})
	}
}

func (c *Controller) dispatch(action session.Action) {
	if err := c.store.Dispatch(action); err != nil {
		log.Printf("client: dispatch: %v", err)
	}
}

// send encodes an envelope onto the active transport, stamped with the
// current user id.
func (c *Controller) send(payload protocol.Payload) error {
	state := c.store.State()
	if state.Transport == nil {
		return errors.New("not connected")
	}
	frame, err := protocol.Encode(protocol.Envelope{SenderID: state.CurrentUserID, Payload: payload})
	if err != nil {
		return err
	}
	return state.Transport.Send(frame)
}

// SendChat publishes a chat line. The local echo is applied immediately;
// the server does not reflect a sender's own messages.
func (c *Controller) SendChat(content string) error {
	if content == "" {
		return nil
	}
	state := c.store.State()
	if state.Phase != session.PhaseReady {
		return errors.New("not connected")
	}
	if err := c.send(protocol.ChatPayload{Content: content}); err != nil {
		return err
	}
	c.dispatch(session.ChatReceived{UserID: state.CurrentUserID, Content: content})
	return nil
}

// SelectFile records the local file selection and announces it to the
// room.
func (c *Controller) SelectFile(path string) error {
	c.dispatch(session.SelectFile{Path: path})
	state := c.store.State()
	if state.Phase != session.PhaseReady {
		return nil
	}
	if err := c.send(protocol.UpdateMetadataPayload{ActiveFile: &path}); err != nil {
		return err
	}
	c.dispatch(session.UpdateUserMetadata{ID: state.CurrentUserID, ActiveFile: &path})
	return nil
}

// Rename changes the current user's display name locally and on the wire.
func (c *Controller) Rename(name string) error {
	state := c.store.State()
	if state.Phase != session.PhaseReady {
		return errors.New("not connected")
	}
	if err := c.send(protocol.UpdateMetadataPayload{Name: &name}); err != nil {
		return err
	}
	c.dispatch(session.UpdateUserMetadata{ID: state.CurrentUserID, Name: &name})
	return nil
}
