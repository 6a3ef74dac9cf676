package transcription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voxen-labs/voxen/internal/models"
	"github.com/voxen-labs/voxen/internal/store"
	"github.com/voxen-labs/voxen/pkg/errhandler"
	"github.com/voxen-labs/voxen/pkg/events"
	"github.com/voxen-labs/voxen/pkg/executor"
	"github.com/voxen-labs/voxen/pkg/stt"
)

type fakeSession struct {
	events chan stt.FragmentEvent
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan stt.FragmentEvent, 16)}
}

func (s *fakeSession) Events() <-chan stt.FragmentEvent { return s.events }
func (s *fakeSession) SendAudio(data []byte) error      { return nil }

func (s *fakeSession) Close() error {
	s.finish(nil)
	return nil
}

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	})
}

type fakeSTT struct {
	mu       sync.Mutex
	sessions []*fakeSession
	openErrs int
	opens    int
}

func (f *fakeSTT) OpenStream(ctx context.Context, opts stt.StreamOptions) (stt.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.opens <= f.openErrs {
		return nil, errhandler.NewTransientError("stt", "connect refused", nil)
	}
	s := newFakeSession()
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeSTT) TranscribeRecording(ctx context.Context, url string) (string, error) {
	return "", nil
}

func (f *fakeSTT) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeSTT) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type harness struct {
	manager *Manager
	store   store.Store
	db      *gorm.DB
	stt     *fakeSTT
	bus     *events.Bus
	call    *models.Call
}

func newHarness(t *testing.T) *harness {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Call{}, &models.TranscriptFragment{}))

	h := &harness{
		store: store.NewGormStore(db),
		db:    db,
		stt:   &fakeSTT{},
		bus:   events.NewBus(zap.NewNop()),
		call:  &models.Call{ID: "call-1", UserID: 7, Status: models.CallStatusInProgress},
	}
	require.NoError(t, h.store.CreateCall(context.Background(), h.call))
	h.manager = NewManager(h.stt, h.store, executor.New(zap.NewNop()), h.bus, stt.StreamOptions{}, zap.NewNop())
	return h
}

func (h *harness) watch(eventType string) <-chan events.Event {
	ch := make(chan events.Event, 16)
	h.bus.Subscribe(eventType, func(ev events.Event) error {
		ch <- ev
		return nil
	})
	return ch
}

func TestInterimFragmentReplacedByOffset(t *testing.T) {
	h := newHarness(t)
	fragments := h.watch(events.TypeTranscriptFragment)

	c, err := h.manager.Start(context.Background(), h.call)
	require.NoError(t, err)
	defer h.manager.Stop(h.call.ID)

	s := h.stt.session(0)
	s.events <- stt.FragmentEvent{OffsetSec: 0.5, Text: "how", Final: false}
	s.events <- stt.FragmentEvent{OffsetSec: 0.5, Text: "how much", Final: false}
	s.events <- stt.FragmentEvent{OffsetSec: 0.5, Text: "How much is it?", Confidence: 0.95, Final: true}

	for i := 0; i < 3; i++ {
		select {
		case <-fragments:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for fragment event")
		}
	}

	assert.Eventually(t, func() bool {
		rows, err := models.GetTranscriptFragments(h.db, h.call.ID)
		return err == nil && len(rows) == 1 && rows[0].Final && rows[0].Text == "How much is it?"
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.Degraded())
}

func TestFinalFragmentNotOverwritten(t *testing.T) {
	h := newHarness(t)
	fragments := h.watch(events.TypeTranscriptFragment)

	_, err := h.manager.Start(context.Background(), h.call)
	require.NoError(t, err)
	defer h.manager.Stop(h.call.ID)

	s := h.stt.session(0)
	s.events <- stt.FragmentEvent{OffsetSec: 1.0, Text: "final text", Final: true}
	s.events <- stt.FragmentEvent{OffsetSec: 1.0, Text: "late interim", Final: false}

	for i := 0; i < 2; i++ {
		select {
		case <-fragments:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for fragment event")
		}
	}

	assert.Eventually(t, func() bool {
		text, err := h.store.FinalTranscript(context.Background(), h.call.ID)
		return err == nil && text == "final text"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectOnceThenResume(t *testing.T) {
	h := newHarness(t)
	fragments := h.watch(events.TypeTranscriptFragment)
	degraded := h.watch(events.TypeTranscriptDegraded)

	c, err := h.manager.Start(context.Background(), h.call)
	require.NoError(t, err)
	defer h.manager.Stop(h.call.ID)

	h.stt.session(0).finish(errhandler.NewTransientError("stt", "socket reset", nil))

	// 重连后的会话继续产出片段
	assert.Eventually(t, func() bool { return h.stt.openCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	h.stt.session(1).events <- stt.FragmentEvent{OffsetSec: 2.0, Text: "back online", Final: true}

	select {
	case ev := <-fragments:
		assert.Equal(t, "back online", ev.Data["text"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fragment after reconnect")
	}
	assert.False(t, c.Degraded())
	assert.Empty(t, degraded)
}

func TestDegradeAfterSecondFailure(t *testing.T) {
	h := newHarness(t)
	degraded := h.watch(events.TypeTranscriptDegraded)

	c, err := h.manager.Start(context.Background(), h.call)
	require.NoError(t, err)
	defer h.manager.Stop(h.call.ID)

	h.stt.session(0).finish(errhandler.NewTransientError("stt", "socket reset", nil))
	assert.Eventually(t, func() bool { return h.stt.openCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	h.stt.session(1).finish(errhandler.NewTransientError("stt", "socket reset again", nil))

	select {
	case ev := <-degraded:
		assert.Equal(t, h.call.ID, ev.Data["call_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for degraded event")
	}
	assert.Eventually(t, c.Degraded, 2*time.Second, 10*time.Millisecond)
	// 只允许一次重连
	assert.Equal(t, 2, h.stt.openCount())
}

func TestDegradeWhenReconnectOpenFails(t *testing.T) {
	h := newHarness(t)
	degraded := h.watch(events.TypeTranscriptDegraded)

	_, err := h.manager.Start(context.Background(), h.call)
	require.NoError(t, err)
	defer h.manager.Stop(h.call.ID)

	h.stt.mu.Lock()
	h.stt.openErrs = 10 // 之后的重连全部失败
	h.stt.mu.Unlock()
	h.stt.session(0).finish(errhandler.NewTransientError("stt", "socket reset", nil))

	select {
	case <-degraded:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for degraded event")
	}
}

func TestCleanCloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	degraded := h.watch(events.TypeTranscriptDegraded)

	c, err := h.manager.Start(context.Background(), h.call)
	require.NoError(t, err)

	h.stt.session(0).finish(nil)
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not exit on clean close")
	}
	assert.Equal(t, 1, h.stt.openCount())
	assert.Empty(t, degraded)
	h.manager.Stop(h.call.ID)
}

func TestManagerOneCoordinatorPerCall(t *testing.T) {
	h := newHarness(t)

	first, err := h.manager.Start(context.Background(), h.call)
	require.NoError(t, err)
	second, err := h.manager.Start(context.Background(), h.call)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, h.stt.openCount())

	h.manager.Stop(h.call.ID)
	assert.Nil(t, h.manager.Get(h.call.ID))
}

func TestInitialOpenFailurePublishesDegraded(t *testing.T) {
	h := newHarness(t)
	h.stt.openErrs = 10
	degraded := h.watch(events.TypeTranscriptDegraded)

	_, err := h.manager.Start(context.Background(), h.call)
	require.Error(t, err)

	select {
	case ev := <-degraded:
		assert.Equal(t, h.call.ID, ev.Data["call_id"])
		assert.Equal(t, h.call.UserID, ev.Data["user_id"])
		assert.NotEmpty(t, ev.Data["reason"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for degraded event")
	}
	assert.Nil(t, h.manager.Get(h.call.ID))
}
