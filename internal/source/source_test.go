package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/cam-voice/internal/core"
)

func TestProviderSelectsBackendByScheme(t *testing.T) {
	p, err := NewProvider("ffmpeg", Options{})
	require.NoError(t, err)

	src, err := p.New(core.CameraDescriptor{ID: "a", URI: "synthetic://x"})
	require.NoError(t, err)
	assert.IsType(t, &SyntheticSource{}, src)

	src, err = p.New(core.CameraDescriptor{ID: "b", URI: "rtsp://10.0.0.1/stream1"})
	require.NoError(t, err)
	assert.IsType(t, &FFmpegSource{}, src)
}

func TestProviderUnknownBackend(t *testing.T) {
	_, err := NewProvider("gstreamer", Options{})
	assert.True(t, errors.Is(err, ErrBackendNotFound))
	assert.Contains(t, err.Error(), "synthetic")
}

func TestBackends(t *testing.T) {
	names := Backends()
	assert.Contains(t, names, "ffmpeg")
	assert.Contains(t, names, "synthetic")
	assert.IsIncreasing(t, names)
}

func TestStateMachine(t *testing.T) {
	var m machine
	assert.Equal(t, StateClosed, m.get())
	require.NoError(t, m.transition(StateClosed, StateOpening))
	assert.Error(t, m.transition(StateClosed, StateOpening))
	require.NoError(t, m.transition(StateOpening, StateStreaming))
	assert.True(t, m.fail())
	assert.Equal(t, StateFailed, m.get())
	assert.True(t, m.close())
	assert.False(t, m.close())
	assert.False(t, m.fail())
	assert.Equal(t, "closed", m.get().String())
}

func TestFFmpegArgs(t *testing.T) {
	desc := core.CameraDescriptor{ID: "camera1", URI: "rtsp://192.168.43.67/stream1", Username: "u", Password: "p", FPS: 5}
	args := ffmpegArgs(desc, 320, 240)
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-rtsp_transport", "tcp",
		"-i", "rtsp://u:p@192.168.43.67/stream1", "-an",
		"-r", "5",
		"-vf", "scale=320:240",
		"-f", "rawvideo", "-pix_fmt", "rgb24", "-",
	}, args)

	args = ffmpegArgs(core.CameraDescriptor{URI: "http://cam/video.mjpg"}, 2, 2)
	assert.NotContains(t, args, "-rtsp_transport")
}

// fakeFFmpeg cria um script que ignora os argumentos e escreve bytes no stdout.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script ffmpeg stub needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// quadros 2x2 rgb24 = 12 bytes
var tiny = core.CameraDescriptor{ID: "camera1", URI: "rtsp://camera1/stream1", Width: 2, Height: 2}

func TestFFmpegSourceEndOfStream(t *testing.T) {
	bin := fakeFFmpeg(t, "head -c 24 /dev/zero")
	src := NewFFmpegSource(Options{FFmpegBin: bin, OpenTimeout: 5 * time.Second})
	ctx := context.Background()

	require.NoError(t, src.Open(ctx, tiny))
	assert.Equal(t, StateStreaming, src.State())

	f1, err := src.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f1.Seq)
	assert.Equal(t, 2, f1.Image.Bounds().Dx())

	f2, err := src.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f2.Seq)

	_, err = src.NextFrame(ctx)
	assert.True(t, errors.Is(err, core.ErrEndOfStream), "got %v", err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.Equal(t, StateClosed, src.State())
}

func TestFFmpegSourceDropped(t *testing.T) {
	bin := fakeFFmpeg(t, "head -c 12 /dev/zero; exit 1")
	src := NewFFmpegSource(Options{FFmpegBin: bin, OpenTimeout: 5 * time.Second})
	ctx := context.Background()

	require.NoError(t, src.Open(ctx, tiny))
	_, err := src.NextFrame(ctx)
	require.NoError(t, err)

	_, err = src.NextFrame(ctx)
	assert.True(t, errors.Is(err, core.ErrSourceUnavailable), "got %v", err)
	assert.Equal(t, StateFailed, src.State())
	require.NoError(t, src.Close())
}

func TestFFmpegSourceTruncatedFrame(t *testing.T) {
	bin := fakeFFmpeg(t, "head -c 18 /dev/zero")
	src := NewFFmpegSource(Options{FFmpegBin: bin, OpenTimeout: 5 * time.Second})
	ctx := context.Background()

	require.NoError(t, src.Open(ctx, tiny))
	_, err := src.NextFrame(ctx)
	require.NoError(t, err)

	_, err = src.NextFrame(ctx)
	assert.True(t, errors.Is(err, core.ErrDecodeError), "got %v", err)
	require.NoError(t, src.Close())
}

func TestFFmpegSourceOpenFailures(t *testing.T) {
	t.Run("binário ausente", func(t *testing.T) {
		src := NewFFmpegSource(Options{FFmpegBin: filepath.Join(t.TempDir(), "missing")})
		err := src.Open(context.Background(), tiny)
		assert.True(t, errors.Is(err, core.ErrSourceUnavailable))
		assert.Equal(t, StateFailed, src.State())
		require.NoError(t, src.Close())
		assert.Equal(t, StateClosed, src.State())
	})

	t.Run("saída sem quadros", func(t *testing.T) {
		bin := fakeFFmpeg(t, `echo "Connection refused" >&2; exit 1`)
		src := NewFFmpegSource(Options{FFmpegBin: bin, OpenTimeout: 5 * time.Second})
		err := src.Open(context.Background(), tiny)
		assert.True(t, errors.Is(err, core.ErrSourceUnavailable), "got %v", err)
	})

	t.Run("timeout", func(t *testing.T) {
		bin := fakeFFmpeg(t, "exec sleep 5")
		src := NewFFmpegSource(Options{FFmpegBin: bin, OpenTimeout: 100 * time.Millisecond})
		start := time.Now()
		err := src.Open(context.Background(), tiny)
		assert.True(t, errors.Is(err, core.ErrSourceUnavailable), "got %v", err)
		assert.Less(t, time.Since(start), 3*time.Second)
	})
}

func TestFFmpegSourceCancelUnblocksRead(t *testing.T) {
	// um quadro e depois silêncio: NextFrame fica bloqueado até o cancelamento
	bin := fakeFFmpeg(t, "head -c 12 /dev/zero; exec sleep 10")
	src := NewFFmpegSource(Options{FFmpegBin: bin, OpenTimeout: 5 * time.Second})
	require.NoError(t, src.Open(context.Background(), tiny))
	_, err := src.NextFrame(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := src.NextFrame(ctx)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("NextFrame did not return after cancel")
	}
	assert.Equal(t, StateClosed, src.State())
}

func TestFFmpegSourceCloseWhileOpening(t *testing.T) {
	for i := 0; i < 30; i++ {
		pidFile := filepath.Join(t.TempDir(), "pid")
		bin := fakeFFmpeg(t, fmt.Sprintf("echo $$ > %s; head -c 12 /dev/zero; exec sleep 30", pidFile))
		src := NewFFmpegSource(Options{FFmpegBin: bin, OpenTimeout: 5 * time.Second})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for src.State() != StateOpening {
				runtime.Gosched()
			}
			_ = src.Close()
		}()

		_ = src.Open(context.Background(), tiny)
		<-done
		require.NoError(t, src.Close())
		assert.Equal(t, StateClosed, src.State())

		raw, err := os.ReadFile(pidFile)
		if err != nil || strings.TrimSpace(string(raw)) == "" {
			// morto antes de chegar no echo
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		require.NoError(t, err)
		proc, err := os.FindProcess(pid)
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			return proc.Signal(syscall.Signal(0)) != nil
		}, 3*time.Second, 10*time.Millisecond, "ffmpeg %d still running after Close (iteration %d)", pid, i)
	}
}

func TestSyntheticSource(t *testing.T) {
	ctx := context.Background()
	before := SyntheticOpen()

	cases := []struct {
		fail    string
		wantErr error
	}{
		{"", core.ErrEndOfStream},
		{"decode", core.ErrDecodeError},
		{"drop", core.ErrSourceUnavailable},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("fail=%q", tc.fail), func(t *testing.T) {
			src := NewSyntheticSource(Options{})
			desc := core.CameraDescriptor{ID: "s", URI: "synthetic://s?frames=3&fail=" + tc.fail, Width: 4, Height: 4}
			require.NoError(t, src.Open(ctx, desc))
			for i := 1; i <= 3; i++ {
				f, err := src.NextFrame(ctx)
				require.NoError(t, err)
				assert.Equal(t, uint64(i), f.Seq)
			}
			_, err := src.NextFrame(ctx)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			require.NoError(t, src.Close())
		})
	}

	src := NewSyntheticSource(Options{})
	err := src.Open(ctx, core.CameraDescriptor{ID: "s", URI: "synthetic://s?fail=open"})
	assert.True(t, errors.Is(err, core.ErrSourceUnavailable))
	require.NoError(t, src.Close())

	assert.Equal(t, before, SyntheticOpen())
}

func TestSyntheticSourceReopen(t *testing.T) {
	ctx := context.Background()
	src := NewSyntheticSource(Options{})
	desc := core.CameraDescriptor{ID: "s", URI: "synthetic://s?frames=1", Width: 2, Height: 2}

	for i := 0; i < 2; i++ {
		require.NoError(t, src.Open(ctx, desc))
		f, err := src.NextFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), f.Seq)
		require.NoError(t, src.Close())
	}
}

func TestSyntheticSourceCloseWakesPacedRead(t *testing.T) {
	ctx := context.Background()
	src := NewSyntheticSource(Options{})
	require.NoError(t, src.Open(ctx, core.CameraDescriptor{ID: "s", URI: "synthetic://s?fps=1", Width: 2, Height: 2}))
	_, err := src.NextFrame(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = src.Close()
	}()
	start := time.Now()
	_, err = src.NextFrame(ctx)
	assert.True(t, errors.Is(err, core.ErrEndOfStream))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}
