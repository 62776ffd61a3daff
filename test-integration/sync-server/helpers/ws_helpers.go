package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/onsi/gomega"
)

// Frame is a decoded server frame
type Frame map[string]any

// Type returns the frame discriminator
func (f Frame) Type() string {
	t, _ := f["type"].(string)
	return t
}

// ClientHelper is one collaborator's WebSocket session
type ClientHelper struct {
	conn *websocket.Conn
}

// Connect opens a session on server for presentationID
func Connect(server *ServerTestHelper, presentationID, userID uuid.UUID) *ClientHelper {
	url := fmt.Sprintf("%s/api/v1/ws/presentations/%s?token=%s",
		strings.Replace(server.GetBaseURL(), "http://", "ws://", 1), presentationID, Token(userID))
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &ClientHelper{conn: conn}
}

// Send writes one JSON frame
func (c *ClientHelper) Send(frame map[string]any) {
	gomega.Expect(c.conn.WriteJSON(frame)).To(gomega.Succeed())
}

// Next reads the next frame
func (c *ClientHelper) Next(timeout time.Duration) (Frame, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// WaitFor skips frames until one of type typ arrives
func (c *ClientHelper) WaitFor(typ string) Frame {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f, err := c.Next(time.Until(deadline))
		gomega.Expect(err).NotTo(gomega.HaveOccurred(), "waiting for %s", typ)
		if f.Type() == typ {
			return f
		}
	}
	gomega.Expect(fmt.Errorf("no %s frame within 5s", typ)).NotTo(gomega.HaveOccurred())
	return nil
}

// ExpectSilence asserts no frame of type typ arrives within d.
// The session cannot be read from afterwards.
func (c *ClientHelper) ExpectSilence(typ string, d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		f, err := c.Next(time.Until(deadline))
		if err != nil {
			return
		}
		gomega.Expect(f.Type()).NotTo(gomega.Equal(typ))
	}
}

// CloseCode reads until the connection closes and returns the close code
func (c *ClientHelper) CloseCode() int {
	for {
		_, err := c.Next(5 * time.Second)
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		return -1
	}
}

// Close ends the session
func (c *ClientHelper) Close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}
