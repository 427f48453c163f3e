package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/GautamJagannath/entrada/internal/autosave"
)

const (
	RealtimeEventSaveStatus = "save-status"
	realtimeEventReady      = "ready"
	realtimeEventHeartbeat  = "heartbeat"
	realtimeSourceBackend   = "entrada-backend"
	realtimeStreamBuffer    = 16
)

// RealtimeMessage is one event addressed to the streams watching a case.
type RealtimeMessage struct {
	Owner     string
	EventType string
	Event     autosave.StatusEvent
}

// caseTopic scopes a stream to one case of one owner, so another owner's
// case id never reaches it.
type caseTopic struct {
	owner  string
	caseID string
}

// RealtimeDispatcher fans save-status events out to the event streams open on
// a case. A stream with a full buffer misses the event; the auto-save path never
// waits on a browser.
type RealtimeDispatcher struct {
	mu      sync.RWMutex
	topics  map[caseTopic]map[uint64]chan RealtimeMessage
	nextID  uint64
	dropped atomic.Uint64
}

var _ autosave.StatusSink = (*RealtimeDispatcher)(nil)

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{topics: make(map[caseTopic]map[uint64]chan RealtimeMessage)}
}

// Subscribe opens a stream on the owner's case. The stream is released when ctx
// ends or the returned func is called, whichever comes first.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, owner, caseID string) (<-chan RealtimeMessage, func()) {
	if owner == "" || caseID == "" {
		closed := make(chan RealtimeMessage)
		close(closed)
		return closed, func() {}
	}

	topic := caseTopic{owner: owner, caseID: caseID}
	stream := make(chan RealtimeMessage, realtimeStreamBuffer)

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.topics[topic] == nil {
		d.topics[topic] = make(map[uint64]chan RealtimeMessage)
	}
	d.topics[topic][id] = stream
	d.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { d.release(topic, id) })
	}
	context.AfterFunc(ctx, release)
	return stream, release
}

// PublishSaveStatus implements autosave.StatusSink.
func (d *RealtimeDispatcher) PublishSaveStatus(owner string, event autosave.StatusEvent) {
	d.Publish(RealtimeMessage{Owner: owner, EventType: RealtimeEventSaveStatus, Event: event})
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Owner == "" || message.EventType == "" || message.Event.CaseID == "" {
		return
	}
	topic := caseTopic{owner: message.Owner, caseID: message.Event.CaseID}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, stream := range d.topics[topic] {
		select {
		case stream <- message:
		default:
			d.dropped.Add(1)
		}
	}
}

// Subscribers reports how many streams are open on the owner's case.
func (d *RealtimeDispatcher) Subscribers(owner, caseID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics[caseTopic{owner: owner, caseID: caseID}])
}

// Dropped reports how many events were discarded because a stream was full.
func (d *RealtimeDispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *RealtimeDispatcher) release(topic caseTopic, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	streams := d.topics[topic]
	delete(streams, id)
	if len(streams) == 0 {
		delete(d.topics, topic)
	}
}
