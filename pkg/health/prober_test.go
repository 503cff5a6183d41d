package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchstack/hutch/pkg/types"
)

func waitTransition(t *testing.T, p *Prober) Transition {
	t.Helper()
	select {
	case tr := <-p.Transitions():
		return tr
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transition")
		return Transition{}
	}
}

func TestProberNoProbeIsImmediatelyReady(t *testing.T) {
	p := NewProber()
	defer p.Stop()

	p.Watch(&types.Instance{ID: "i-1", Address: "10.0.0.1:8080"}, nil)

	tr := waitTransition(t, p)
	assert.Equal(t, "i-1", tr.InstanceID)
	assert.True(t, tr.Ready)
}

func TestProberReadyThenUnready(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	addr := strings.TrimPrefix(server.URL, "http://")

	p := NewProber()
	defer p.Stop()

	p.Watch(&types.Instance{ID: "i-1", Address: addr}, &types.Probe{
		Type:             types.ProbeHTTP,
		Path:             "/",
		Interval:         50 * time.Millisecond,
		Timeout:          time.Second,
		FailureThreshold: 2,
		SuccessThreshold: 1,
	})

	tr := waitTransition(t, p)
	require.True(t, tr.Ready)

	healthy.Store(false)

	tr = waitTransition(t, p)
	assert.False(t, tr.Ready)

	// Recovery flips it back
	healthy.Store(true)
	tr = waitTransition(t, p)
	assert.True(t, tr.Ready)
}

func TestProberForgetStopsLoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	addr := strings.TrimPrefix(server.URL, "http://")

	p := NewProber()
	defer p.Stop()

	p.Watch(&types.Instance{ID: "i-1", Address: addr}, &types.Probe{
		Type:             types.ProbeTCP,
		Interval:         50 * time.Millisecond,
		Timeout:          time.Second,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	})

	tr := waitTransition(t, p)
	require.True(t, tr.Ready)

	p.Forget("i-1")

	// Stopping the server would flip readiness, but the loop is gone
	server.Close()

	select {
	case tr := <-p.Transitions():
		t.Fatalf("unexpected transition after Forget: %+v", tr)
	case <-time.After(300 * time.Millisecond):
	}
}
