package wlantx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// FakeRadio remembers every frame pushed to it.
type FakeRadio struct {
	mu     sync.Mutex
	frames []Frame
	idle   bool
}

func (r *FakeRadio) Push(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *FakeRadio) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idle
}

func (r *FakeRadio) SetIdle(idle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idle = idle
}

// Take returns what was pushed since the last call.
func (r *FakeRadio) Take() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out = r.frames
	r.frames = nil
	return out
}

// Announcement is one call to a TrafficAnnouncer.  Group traffic of an
// interface has Station NoStation and names the Vif.
type Announcement struct {
	Station   StationID
	Vif       VifID
	Group     PSGroup
	Available bool
}

// RecordingAnnouncer remembers every traffic announcement.
type RecordingAnnouncer struct {
	mu     sync.Mutex
	events []Announcement
}

func (a *RecordingAnnouncer) AnnounceTraffic(sta StationID, group PSGroup, available bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, Announcement{Station: sta, Group: group, Available: available})
}

func (a *RecordingAnnouncer) AnnounceGroupTraffic(vif VifID, available bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, Announcement{Station: NoStation, Vif: vif, Group: PSLegacy, Available: available})
}

// Take returns what was announced since the last call.
func (a *RecordingAnnouncer) Take() []Announcement {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out = a.events
	a.events = nil
	return out
}

// AssertPushed checks that exactly want, in that order, reached the radio
// since the last Take.
func AssertPushed(t *testing.T, r *FakeRadio, want ...BufferRef) {
	t.Helper()

	var got []BufferRef
	for _, f := range r.Take() {
		got = append(got, f.Ref)
	}
	if len(want) == 0 {
		assert.Empty(t, got)
		return
	}
	assert.Equal(t, want, got)
}
