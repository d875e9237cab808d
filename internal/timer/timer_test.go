package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobtube/beanstalkd/internal/store"
)

type nopHub struct{}

func (nopHub) JobReady(string, uint64)     {}
func (nopHub) JobExpired(uint64, uint64)   {}
func (nopHub) DeadlineSoon(uint64, uint64) {}

func TestDelayFiresAndPromotesJob(t *testing.T) {
	svc := &Service{wake: make(chan struct{}, 1)}
	st := store.New(nopHub{}, svc)
	svc.st = st

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	id := st.Put("default", 0, 1, 60, []byte("x"))

	require.Eventually(t, func() bool {
		_, ok := st.ReserveNext([]string{"default"}, 1)
		return ok
	}, 3*time.Second, 5*time.Millisecond)

	j, ok := st.Peek(id)
	require.True(t, ok)
	assert.Equal(t, store.Reserved, j.State)
}

func TestTTRFiresAndReleasesReservation(t *testing.T) {
	svc := &Service{wake: make(chan struct{}, 1)}
	st := store.New(nopHub{}, svc)
	svc.st = st

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	id := st.Put("default", 0, 0, 1, []byte("x"))
	_, ok := st.ReserveNext([]string{"default"}, 1)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		j, ok := st.Peek(id)
		return ok && j.State == store.Ready
	}, 3*time.Second, 5*time.Millisecond)
}
