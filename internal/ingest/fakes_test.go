package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/PratikDhanave/attendance-ingest/internal/models"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	faces     [][]models.FaceReading
	cards     [][]models.CardReading
	faceErr   error
	cardErr   error
	facePanic bool
	called    chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{called: make(chan struct{}, 64)}
}

func (f *fakeDispatcher) ProcessFaceBatch(_ context.Context, rs []models.FaceReading) error {
	f.mu.Lock()
	f.faces = append(f.faces, append([]models.FaceReading(nil), rs...))
	err, boom := f.faceErr, f.facePanic
	f.mu.Unlock()
	f.signal()
	if boom {
		panic("face store exploded")
	}
	return err
}

func (f *fakeDispatcher) ProcessCardBatch(_ context.Context, rs []models.CardReading) error {
	f.mu.Lock()
	f.cards = append(f.cards, append([]models.CardReading(nil), rs...))
	err := f.cardErr
	f.mu.Unlock()
	f.signal()
	return err
}

func (f *fakeDispatcher) signal() {
	select {
	case f.called <- struct{}{}:
	default:
	}
}

func (f *fakeDispatcher) faceBatches() [][]models.FaceReading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]models.FaceReading(nil), f.faces...)
}

func (f *fakeDispatcher) cardBatches() [][]models.CardReading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]models.CardReading(nil), f.cards...)
}

// scriptedQueue replays a fixed list of pop results and records pushes.
type scriptedQueue struct {
	mu      sync.Mutex
	pops    []popResult
	pushed  [][]byte
	pushErr error
	lenCall int
}

type popResult struct {
	msg []byte
	err error
}

func (q *scriptedQueue) Push(_ context.Context, msg []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.pushed = append(q.pushed, msg)
	return nil
}

func (q *scriptedQueue) Pop(context.Context, time.Duration) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pops) == 0 {
		return nil, ErrQueueEmpty
	}
	r := q.pops[0]
	q.pops = q.pops[1:]
	return r.msg, r.err
}

func (q *scriptedQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lenCall++
	return int64(len(q.pops)), nil
}

type failingDedup struct{ err error }

func (f failingDedup) AcceptIfNew(context.Context, string) (bool, error) { return false, f.err }

func faceReading(id string) models.FaceReading {
	return models.FaceReading{
		DeviceID:       7,
		PersonType:     models.PersonStudent,
		PersonID:       id,
		AttendanceType: models.AttendanceIn,
		AttendanceTime: models.NewTimestamp(time.Date(2025, 10, 25, 8, 0, 0, 0, time.UTC)),
		Score:          0.97,
		Success:        true,
	}
}

func cardReading(no string) models.CardReading {
	return models.CardReading{
		DeviceID:       3,
		CardNo:         no,
		AttendanceType: models.AttendanceIn,
		AttendanceTime: models.NewTimestamp(time.Date(2025, 10, 25, 8, 0, 0, 0, time.UTC)),
	}
}
