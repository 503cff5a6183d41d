package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundRobinEvenDistribution(t *testing.T) {
	rr := NewRoundRobin()
	addrs := []string{"10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080"}

	counts := make(map[string]int)
	for i := 0; i < len(addrs)*4; i++ {
		counts[rr.Pick("web", addrs)]++
	}

	for _, addr := range addrs {
		assert.Equal(t, 4, counts[addr], "each address picked once per window")
	}
}

func TestRoundRobinPerEndpointRotation(t *testing.T) {
	rr := NewRoundRobin()
	addrs := []string{"10.0.0.1:8080", "10.0.0.2:8080"}

	first := rr.Pick("web", addrs)
	// A different endpoint keeps its own rotation
	assert.Equal(t, first, rr.Pick("api", addrs))
	assert.NotEqual(t, first, rr.Pick("web", addrs))
}

func TestRoundRobinShrunkSet(t *testing.T) {
	rr := NewRoundRobin()

	rr.Pick("web", []string{"a", "b", "c"})
	rr.Pick("web", []string{"a", "b", "c"})
	rr.Pick("web", []string{"a", "b", "c"})

	// Set shrank under the stored index; Pick must stay in bounds
	got := rr.Pick("web", []string{"a"})
	assert.Equal(t, "a", got)
}

func TestRoundRobinConcurrent(t *testing.T) {
	rr := NewRoundRobin()
	addrs := []string{"10.0.0.1:8080", "10.0.0.2:8080"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := rr.Pick("web", addrs)
				assert.Contains(t, addrs, got)
			}
		}()
	}
	wg.Wait()
}

func TestLeastConnectionsPicksIdleBackend(t *testing.T) {
	lc := NewLeastConnections()
	addrs := []string{"10.0.0.1:8080", "10.0.0.2:8080"}

	lc.Acquire("10.0.0.1:8080")
	lc.Acquire("10.0.0.1:8080")
	lc.Acquire("10.0.0.2:8080")

	assert.Equal(t, "10.0.0.2:8080", lc.Pick("web", addrs))

	lc.Release("10.0.0.1:8080")
	lc.Release("10.0.0.1:8080")
	assert.Equal(t, "10.0.0.1:8080", lc.Pick("web", addrs))
}

func TestLeastConnectionsTieGoesFirst(t *testing.T) {
	lc := NewLeastConnections()
	addrs := []string{"10.0.0.1:8080", "10.0.0.2:8080"}

	assert.Equal(t, "10.0.0.1:8080", lc.Pick("web", addrs))
}

func TestLeastConnectionsReleaseNeverGoesNegative(t *testing.T) {
	lc := NewLeastConnections()

	lc.Release("10.0.0.1:8080")
	lc.Acquire("10.0.0.2:8080")

	// If the count had gone negative, the released address would always win
	addrs := []string{"10.0.0.2:8080", "10.0.0.1:8080"}
	assert.Equal(t, "10.0.0.1:8080", lc.Pick("web", addrs))
	lc.Acquire("10.0.0.1:8080")
	assert.Equal(t, "10.0.0.2:8080", lc.Pick("web", addrs))
}
