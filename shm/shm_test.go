//go:build linux

package shm

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/patchfield/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testAddr(t *testing.T) string {
	return fmt.Sprintf("@patchfield-test-%d-%s", os.Getpid(), t.Name())
}

// TestSegmentSharedBetweenMappings verifies two mappings of one file see the same data.
func TestSegmentSharedBetweenMappings(t *testing.T) {
	seg, err := Create("test")
	require.NoError(t, err)
	defer seg.Close()

	dup, err := unix.Dup(seg.FD())
	require.NoError(t, err)
	tok := NewToken(dup)
	defer tok.Close()

	other, err := Map(tok.FD())
	require.NoError(t, err)
	defer other.Close()

	seg.Floats(BufferOffset, 4)[2] = 0.5
	assert.Equal(t, float32(0.5), other.Floats(BufferOffset, 4)[2])

	seg.Slot(3).Init(48000, 64, 1, 2, BufferOffset, BufferOffset+64)
	assert.True(t, seg.Slot(3).CompareAndSwapStatus(StatusFree, StatusCurrent))
	assert.Equal(t, StatusCurrent, other.Slot(3).Status())
	assert.Equal(t, 2, other.Slot(3).OutputChannels())
	assert.Len(t, other.Slot(3).Output(), 128)
}

// TestMapRejectsWrongSize verifies Map checks the file size.
func TestMapRejectsWrongSize(t *testing.T) {
	fd, err := unix.MemfdCreate("small", unix.MFD_CLOEXEC)
	require.NoError(t, err)
	defer unix.Close(fd)
	require.NoError(t, unix.Ftruncate(fd, 4096))

	_, err = Map(fd)
	assert.ErrorIs(t, err, ErrSegmentSize)
}

// TestTokenCloseIdempotent verifies a token closes its descriptor exactly once.
func TestTokenCloseIdempotent(t *testing.T) {
	fd, err := unix.MemfdCreate("token", unix.MFD_CLOEXEC)
	require.NoError(t, err)

	tok := NewToken(fd)
	assert.True(t, tok.Valid())
	assert.Equal(t, 0, tok.Code())

	require.NoError(t, tok.Close())
	assert.True(t, tok.Closed())
	assert.False(t, tok.Valid())
	assert.Equal(t, -1, tok.FD())
	assert.NoError(t, tok.Close())
}

// TestInvalidToken verifies invalid tokens carry their code and close as a no-op.
func TestInvalidToken(t *testing.T) {
	tok := InvalidToken(-9)
	assert.False(t, tok.Valid())
	assert.Equal(t, -9, tok.Code())
	assert.NoError(t, tok.Close())
	assert.False(t, tok.Closed())

	assert.Equal(t, -1, InvalidToken(3).Code())
}

// TestBarrierWakeAndWait verifies a waiter is released by Wake.
func TestBarrierWakeAndWait(t *testing.T) {
	var word int32
	b := NewBarrier(&word)

	done := make(chan bool, 1)
	go func() {
		done <- b.WaitAndClear(0)
	}()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, b.Wake())

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&word))
}

// TestBarrierDeadline verifies Wait gives up at the deadline.
func TestBarrierDeadline(t *testing.T) {
	var word int32
	b := NewBarrier(&word)

	start := time.Now()
	assert.False(t, b.Wait(Now()+int64(20*time.Millisecond)))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	assert.True(t, b.Wake())
	assert.False(t, b.Wake(), "second wake without clear must fail")
	assert.True(t, b.Wait(Now()+int64(time.Millisecond)))
}

// TestBarrierTampered verifies waits on a corrupted word fail immediately.
func TestBarrierTampered(t *testing.T) {
	word := int32(7)
	b := NewBarrier(&word)
	assert.False(t, b.Wait(0))
	assert.False(t, b.Wake())
}

// TestMessages verifies the message snapshot and its capacity check.
func TestMessages(t *testing.T) {
	seg, err := Create("messages")
	require.NoError(t, err)
	defer seg.Close()

	assert.Nil(t, seg.ReadMessages())

	require.NoError(t, seg.WriteMessages([][]byte{[]byte("abc"), []byte("hello")}))
	msgs := seg.ReadMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "abc", string(msgs[0]))
	assert.Equal(t, "hello", string(msgs[1]))

	huge := make([][]byte, 0)
	for i := 0; i < limits.MessageRegionSize/limits.PaddedMessageSize(limits.MaxMessageLength)+1; i++ {
		huge = append(huge, make([]byte, limits.MaxMessageLength))
	}
	assert.ErrorIs(t, seg.WriteMessages(huge), ErrRegionFull)
	assert.Nil(t, seg.ReadMessages())
}

// TestCollectInputSumsSources verifies fan-in sums ready sources.
func TestCollectInputSumsSources(t *testing.T) {
	seg, err := Create("collect")
	require.NoError(t, err)
	defer seg.Close()

	const frames = 4
	a, b, sink := seg.Slot(2), seg.Slot(3), seg.Slot(4)
	a.Init(48000, frames, 0, 1, BufferOffset, BufferOffset)
	b.Init(48000, frames, 0, 1, BufferOffset+frames, BufferOffset+frames)
	sink.Init(48000, frames, 2, 0, BufferOffset+2*frames, BufferOffset+4*frames)

	for i, v := range []float32{1, 2, 3, 4} {
		a.Output()[i] = v
		b.Output()[i] = 10 * v
	}
	a.SetInUse(true)
	b.SetInUse(true)
	a.Ready().Wake()
	b.Ready().Wake()

	require.True(t, sink.Connection(0).Set(2, 0, 1))
	require.True(t, sink.Connection(1).Set(3, 0, 1))
	sink.Connection(0).SetInUse(true)
	sink.Connection(1).SetInUse(true)

	seg.CollectInput(4)
	assert.Equal(t, []float32{0, 0, 0, 0}, sink.Input()[:frames])
	assert.Equal(t, []float32{11, 22, 33, 44}, sink.Input()[frames:])
}

// TestSendReceive verifies a descriptor crosses the rendezvous socket.
func TestSendReceive(t *testing.T) {
	addr := testAddr(t)
	seg, err := Create("rendezvous")
	require.NoError(t, err)
	defer seg.Close()

	assert.ErrorIs(t, Send(addr, seg.FD()), ErrNoReceiver)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		tok *Token
		err error
	}
	got := make(chan result, 1)
	go func() {
		tok, err := Receive(ctx, addr)
		got <- result{tok, err}
	}()

	require.Eventually(t, func() bool { return Send(addr, seg.FD()) == nil }, time.Second, 5*time.Millisecond)

	r := <-got
	require.NoError(t, r.err)
	defer r.tok.Close()

	mapped, err := Map(r.tok.FD())
	require.NoError(t, err)
	defer mapped.Close()

	seg.Floats(BufferOffset, 1)[0] = 0.25
	assert.Equal(t, float32(0.25), mapped.Floats(BufferOffset, 1)[0])
}

// TestReceiveCancelled verifies Receive returns when its context ends.
func TestReceiveCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Receive(ctx, testAddr(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
