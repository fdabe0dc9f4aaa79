package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/cam-voice/internal/catalog"
	"github.com/sua-org/cam-voice/internal/command"
	"github.com/sua-org/cam-voice/internal/coordinator"
	"github.com/sua-org/cam-voice/internal/core"
	"github.com/sua-org/cam-voice/internal/encoder"
	"github.com/sua-org/cam-voice/internal/registry"
	"github.com/sua-org/cam-voice/internal/source"
	"github.com/sua-org/cam-voice/internal/voice"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	srv   *Server
	reg   *registry.Registry
	coord *coordinator.Coordinator
}

func newFixture(t *testing.T, opts coordinator.Options) fixture {
	t.Helper()
	cat, err := catalog.New(
		core.CameraDescriptor{ID: "camera1", Name: "Front door", URI: "synthetic://camera1?frames=3", Width: 16, Height: 12},
		core.CameraDescriptor{ID: "camera2", URI: "synthetic://camera2?fps=30", Width: 16, Height: 12},
		core.CameraDescriptor{ID: "camera3", URI: "synthetic://camera3?fail=open"},
	)
	require.NoError(t, err)
	reg := registry.New(cat)
	prov, err := source.NewProvider("synthetic", source.Options{})
	require.NoError(t, err)
	coord := coordinator.New(cat, reg, prov, encoder.NewJPEG(80), opts)
	svc := voice.NewService(command.NewProcessor(reg))
	return fixture{srv: New("127.0.0.1:0", coord, svc), reg: reg, coord: coord}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	f.srv.Handler().ServeHTTP(w, httptest.NewRequest(method, path, r))
	return w
}

func TestVideoFeedUnknownCamera(t *testing.T) {
	f := newFixture(t, coordinator.Options{})
	w := f.do(t, http.MethodGet, "/video_feed/camera9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Camera not found", w.Body.String())
}

func TestVideoFeedMultipart(t *testing.T) {
	f := newFixture(t, coordinator.Options{})
	w := f.do(t, http.MethodGet, "/video_feed/camera1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", w.Header().Get("Content-Type"))

	body := w.Body.Bytes()
	assert.True(t, bytes.HasPrefix(body, []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n\xff\xd8")))
	assert.Equal(t, 3, bytes.Count(body, []byte("--frame\r\n")))
	assert.True(t, bytes.HasSuffix(body, []byte("\r\n")))

	// o corpo também tem que ser legível por um parser multipart genérico
	_, params, err := mime.ParseMediaType(w.Header().Get("Content-Type"))
	require.NoError(t, err)
	mr := multipart.NewReader(bytes.NewReader(append(body, []byte("--frame--\r\n")...)), params["boundary"])
	parts := 0
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", p.Header.Get("Content-Type"))
		data, err := io.ReadAll(p)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte{0xff, 0xd8}))
		parts++
	}
	assert.Equal(t, 3, parts)
}

func TestVideoFeedUnreachableCameraEndsStream(t *testing.T) {
	f := newFixture(t, coordinator.Options{})
	w := f.do(t, http.MethodGet, "/video_feed/camera3", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, core.ConnectionStateOffline, f.coord.Connection("camera3"))
}

func TestUnreachableCameraDoesNotBlockOtherViewers(t *testing.T) {
	f := newFixture(t, coordinator.Options{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/video_feed/camera2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)

	bad, err := http.Get(ts.URL + "/video_feed/camera3")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, bad.Body)
	bad.Body.Close()

	// o stream saudável continua entregando partes
	deadline := time.Now().Add(2 * time.Second)
	boundaries := 0
	for boundaries < 3 && time.Now().Before(deadline) {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		if line == "--frame\r\n" {
			boundaries++
		}
	}
	assert.Equal(t, 3, boundaries)
}

func TestViewerDisconnectEndsSession(t *testing.T) {
	f := newFixture(t, coordinator.Options{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	before := source.SyntheticOpen()
	resp, err := http.Get(ts.URL + "/video_feed/camera2")
	require.NoError(t, err)
	_, err = bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.Len(t, f.coord.Sessions(), 1)

	resp.Body.Close()
	require.Eventually(t, func() bool {
		return len(f.coord.Sessions()) == 0 && source.SyntheticOpen() == before
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCamerasAndIndex(t *testing.T) {
	f := newFixture(t, coordinator.Options{})

	w := f.do(t, http.MethodGet, "/api/cameras", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No cameras are being displayed")

	require.NoError(t, f.reg.Activate("camera1"))

	w = f.do(t, http.MethodGet, "/api/cameras", "")
	assert.JSONEq(t, `[{"id":"camera1","name":"Front door","location":"","stream_url":"/video_feed/camera1","status":"not_established"}]`, w.Body.String())

	w = f.do(t, http.MethodGet, "/", "")
	assert.Contains(t, w.Body.String(), `src="/video_feed/camera1"`)
	assert.Contains(t, w.Body.String(), "Front door")

	w = f.do(t, http.MethodGet, "/static/app.js", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/cameras")
}

func TestVoiceEndpointDrivesPage(t *testing.T) {
	f := newFixture(t, coordinator.Options{})

	w := f.do(t, http.MethodPost, "/voice", `{"request":{"type":"IntentRequest","intent":{"name":"ShowCameraIntent","slots":{"CameraName":{"value":"all"}}}}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Displaying all cameras.")

	var feeds []coordinator.Feed
	require.NoError(t, json.Unmarshal(f.do(t, http.MethodGet, "/api/cameras", "").Body.Bytes(), &feeds))
	require.Len(t, feeds, 3)
	assert.Equal(t, "/video_feed/camera3", feeds[2].StreamURL)

	w = f.do(t, http.MethodPost, "/voice", `{"intentType":"RemoveCamera","cameraName":"camera2"}`)
	assert.JSONEq(t, `{"speechText":"Removed camera2 from display.","endSession":true}`, w.Body.String())
	assert.Equal(t, []core.CameraID{"camera1", "camera3"}, f.reg.Snapshot())

	w = f.do(t, http.MethodPost, "/voice", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type memStore struct{ keys []string }

func (m *memStore) SaveSnapshot(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.keys = append(m.keys, key)
	return "http://minio.local/" + key, nil
}

func TestSnapshots(t *testing.T) {
	f := newFixture(t, coordinator.Options{})

	w := f.do(t, http.MethodGet, "/api/cameras/camera1/snapshot.jpg", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte{0xff, 0xd8}))

	w = f.do(t, http.MethodGet, "/api/cameras/camera9/snapshot.jpg", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/cameras/camera3/snapshot.jpg", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = f.do(t, http.MethodPost, "/api/cameras/camera1/snapshot", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	store := &memStore{}
	f = newFixture(t, coordinator.Options{Store: store})
	w = f.do(t, http.MethodPost, "/api/cameras/camera1/snapshot", "")
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, store.keys, 1)
	var out struct{ Camera, URL string }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "camera1", out.Camera)
	assert.Equal(t, "http://minio.local/"+store.keys[0], out.URL)
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, coordinator.Options{})
	require.NoError(t, f.reg.Activate("camera2"))

	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var st struct {
		Display  coordinator.Status `json:"display"`
		Sessions []json.RawMessage  `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, []core.CameraID{"camera2"}, st.Display.Active)
	assert.Empty(t, st.Sessions)
}

func TestWebSocketFeed(t *testing.T) {
	f := newFixture(t, coordinator.Options{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws/video_feed/camera9", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/video_feed/camera1", nil)
	require.NoError(t, err)
	defer conn.Close()
	for i := 0; i < 3; i++ {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, kind)
		assert.True(t, bytes.HasPrefix(data, []byte{0xff, 0xd8}))
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, coordinator.Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	// um stream aberto não pode segurar o shutdown
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/video_feed/camera2")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
