// internal/stream/emitter.go
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	Boundary    = "frame"
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

// Emitter entrega um payload codificado ao viewer. Um erro significa que o
// viewer não está mais lá.
type Emitter interface {
	Emit(ctx context.Context, payload []byte) error
}

// MultipartEmitter escreve cada quadro como uma parte de
// multipart/x-mixed-replace e faz flush em seguida.
type MultipartEmitter struct {
	w        io.Writer
	flusher  http.Flusher
	partType string
}

// NewMultipartEmitter usa w como corpo da resposta; se w for um http.Flusher,
// cada parte é enviada imediatamente.
func NewMultipartEmitter(w io.Writer, partType string) *MultipartEmitter {
	if partType == "" {
		partType = "image/jpeg"
	}
	f, _ := w.(http.Flusher)
	return &MultipartEmitter{w: w, flusher: f, partType: partType}
}

func (e *MultipartEmitter) Emit(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "--%s\r\nContent-Type: %s\r\n\r\n", Boundary, e.partType); err != nil {
		return err
	}
	if _, err := e.w.Write(payload); err != nil {
		return err
	}
	if _, err := io.WriteString(e.w, "\r\n"); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

const (
	wsWriteWait = 10 * time.Second
	wsReadLimit = 512
)

// WebSocketEmitter manda um quadro por mensagem binária.
type WebSocketEmitter struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func NewWebSocketEmitter(conn *websocket.Conn) *WebSocketEmitter {
	return &WebSocketEmitter{conn: conn}
}

var errEmitterClosed = errors.New("websocket emitter closed")

func (e *WebSocketEmitter) Emit(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEmitterClosed
	}
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return e.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// ReadLoop descarta o que o viewer mandar e chama cancel quando a conexão
// cai ou o viewer fecha. Bloqueia; rode numa goroutine.
func (e *WebSocketEmitter) ReadLoop(cancel context.CancelFunc) {
	defer cancel()
	e.conn.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := e.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close envia o close frame e fecha a conexão. Idempotente.
func (e *WebSocketEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	_ = e.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = e.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return e.conn.Close()
}
