package actuation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcb-inspect/internal/decision"
)

func TestSlotAllocatorFillsBoxesInOrder(t *testing.T) {
	a := NewSlotAllocator(2, 2)
	require.Equal(t, 4, a.Capacity())

	want := []SlotResult{
		{Status: SlotAssigned, Box: 0, Slot: 0},
		{Status: SlotAssigned, Box: 0, Slot: 1},
		{Status: SlotAssigned, Box: 1, Slot: 0},
		{Status: SlotAssigned, Box: 1, Slot: 1},
		{Status: SlotFull},
	}
	for i, w := range want {
		assert.Equal(t, w, a.Assign(decision.Missing), "assignment %d", i)
	}
	assert.Equal(t, "full", a.Assign(decision.Missing).String())

	// Other decisions have their own boxes.
	assert.True(t, a.Assign(decision.Discard).Assigned())

	a.Reset(decision.Missing)
	assert.Equal(t, 0, a.Used(decision.Missing))
	assert.Equal(t, SlotResult{Status: SlotAssigned}, a.Assign(decision.Missing))
}

func TestSlotAllocatorDefaults(t *testing.T) {
	a := NewSlotAllocator(0, -1)
	assert.Equal(t, DefaultBoxes*DefaultSlotsPerBox, a.Capacity())
}

func TestSlotAllocatorConcurrent(t *testing.T) {
	a := NewSlotAllocator(3, 10)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		assigned = map[SlotResult]int{}
		full     int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := a.Assign(decision.PositionError)
			mu.Lock()
			defer mu.Unlock()
			if r.Assigned() {
				assigned[r]++
			} else {
				full++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, assigned, 30)
	for r, n := range assigned {
		assert.Equal(t, 1, n, "slot %v handed out twice", r)
	}
	assert.Equal(t, 20, full)
}

func TestSlotResultJSON(t *testing.T) {
	b, err := json.Marshal(SlotResult{Status: SlotAssigned, Box: 1, Slot: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"assigned","box":1,"slot":3}`, string(b))
}

func TestHTTPActuatorSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true,"message":"ok"}`))
	}))
	defer srv.Close()

	act := NewHTTPActuator(srv.URL, time.Second, nil)
	meta := Metadata{InspectionID: "abc", ProductCode: "AB", Slot: SlotResult{Status: SlotAssigned, Box: 0, Slot: 2}}
	ack, err := act.Send(context.Background(), decision.PositionError, meta)
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "ok", ack.Message)
	assert.False(t, ack.At.IsZero())

	assert.Equal(t, "position_error", got["decision"])
	assert.Equal(t, float64(2), got["code"])
	assert.Equal(t, "abc", got["inspection_id"])
	assert.Equal(t, true, got["placed"])
}

func TestHTTPActuatorTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	act := NewHTTPActuator(srv.URL, 50*time.Millisecond, nil)
	_, err := act.Send(context.Background(), decision.Normal, Metadata{InspectionID: "x"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHTTPActuatorRejectsUnknownDecision(t *testing.T) {
	act := NewHTTPActuator("http://127.0.0.1:1", time.Second, nil)
	_, err := act.Send(context.Background(), decision.Decision("maybe"), Metadata{})
	assert.Error(t, err)
}

func TestLogActuator(t *testing.T) {
	ack, err := NewLogActuator(nil).Send(context.Background(), decision.Discard, Metadata{InspectionID: "id"})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
}
