package service

import (
	"context"
	"errors"
	"time"

	"github.com/dtroode/pastedb/internal/model"
	"github.com/dtroode/pastedb/internal/storage/memory"
)

var errBoom = errors.New("boom")

// recordingBackend counts writes and can fail a chosen one.
type recordingBackend struct {
	*memory.Backend
	stores      int
	failStoreAt int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{Backend: memory.New("memory")}
}

func (r *recordingBackend) Store(ctx context.Context, content []byte, title string) (string, error) {
	r.stores++
	if r.failStoreAt == r.stores {
		return "", model.NewBackendError(r.Name(), "store", errBoom)
	}
	return r.Backend.Store(ctx, content, title)
}

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func doc(raw string) model.Document {
	d, err := model.ParseDocument([]byte(raw))
	if err != nil {
		panic(err)
	}
	return d
}
