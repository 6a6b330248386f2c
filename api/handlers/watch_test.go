package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/host"
	"github.com/BaSui01/resumeflow/types"
)

// notifyingSubscriber 在订阅建立后通知测试
type notifyingSubscriber struct {
	*host.LocalHost
	subscribed chan string
}

func (s *notifyingSubscriber) Subscribe(threadID string) (<-chan host.HeartbeatEvent, func()) {
	ch, cancel := s.LocalHost.Subscribe(threadID)
	s.subscribed <- threadID
	return ch, cancel
}

func TestWatchHandler_StreamsHeartbeats(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := host.NewLocalHost(nil)
	sub := &notifyingSubscriber{LocalHost: h, subscribed: make(chan string, 1)}

	mux := http.NewServeMux()
	NewWatchHandler(sub, nil, zap.NewNop()).Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/threads/thread-1/watch"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	select {
	case id := <-sub.subscribed:
		assert.Equal(t, "thread-1", id)
	case <-ctx.Done():
		t.Fatal("subscription not established")
	}

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := h.ExecuteActivity(ctx, "thread-1", "job", func(_ context.Context, env longrunning.ActivityEnv) ([]byte, error) {
			for i := 1; i <= 2; i++ {
				cp := &types.Checkpoint{ThreadID: "thread-1", ProgressCount: i, LastUnitName: "step"}
				payload, _ := cp.Encode()
				env.RecordHeartbeat(payload)
			}
			<-release
			return []byte(`"ok"`), nil
		}, host.ActivityOptions{})
		done <- err
	}()

	for want := 1; want <= 2; want++ {
		var ev host.HeartbeatEvent
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		assert.Equal(t, "thread-1", ev.ThreadID)
		assert.Equal(t, "job", ev.Activity)
		assert.Equal(t, 1, ev.Attempt)
		require.NotNil(t, ev.Checkpoint)
		assert.Equal(t, want, ev.Checkpoint.ProgressCount)
	}
	close(release)
	require.NoError(t, <-done)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestWatchHandler_RejectsPlainHTTP(t *testing.T) {
	mux := http.NewServeMux()
	NewWatchHandler(host.NewLocalHost(nil), nil, nil).Routes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/threads/t/watch", nil))
	assert.Equal(t, http.StatusUpgradeRequired, w.Code)
}
