package flush

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkedFlushResolvesInOrder(t *testing.T) {
	n := New(nil)
	p1, p2, p3 := NewPromise(), NewPromise(), NewPromise()

	n.Add(p1, 10)
	n.Add(p2, 20)
	n.Add(p3, 30)

	n.Increase(10)
	n.NotifySuccess()
	assert.True(t, p1.IsDone())
	assert.False(t, p2.IsDone())
	assert.False(t, p3.IsDone())

	n.Increase(15) // writeCounter 25
	n.NotifySuccess()
	assert.True(t, p2.IsDone())
	assert.False(t, p3.IsDone())

	n.Increase(35) // writeCounter 60
	n.NotifySuccess()
	assert.True(t, p3.IsDone())
}

func TestResolutionOrderIsFIFO(t *testing.T) {
	n := New(nil)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		p := NewPromise()
		p.Listen(func(error) { order = append(order, i) })
		n.Add(p, uint64(i+1)*10)
	}
	n.Increase(1000)
	n.NotifySuccess()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestNotifyFailureFailsRemainder(t *testing.T) {
	n := New(nil)
	p1, p2, p3 := NewPromise(), NewPromise(), NewPromise()
	n.Add(p1, 5)
	n.Add(p2, 50)
	n.Add(p3, 100)

	n.Increase(10) // only p1's checkpoint passed
	cause := fmt.Errorf("boom")
	n.NotifyFailure(cause)

	assert.NoError(t, p1.Await())
	assert.Equal(t, cause, p2.Await())
	assert.Equal(t, cause, p3.Await())
	assert.Equal(t, 0, n.Pending())
}

func TestNotifyFailureCauseSplitsHeadFromRest(t *testing.T) {
	n := New(nil)
	p1, p2 := NewPromise(), NewPromise()
	n.Add(p1, 10)
	n.Add(p2, 20)

	headCause := fmt.Errorf("in-flight write failed")
	restCause := fmt.Errorf("channel closed")
	n.NotifyFailureCause(headCause, restCause)

	assert.Equal(t, headCause, p1.Await())
	assert.Equal(t, restCause, p2.Await())
}

func TestRebaseAtThresholdPreservesPendingPromises(t *testing.T) {
	n := New(nil)
	n.writeCounter = rebaseThreshold - 100
	p := NewPromise()
	n.Add(p, 50) // checkpoint = rebaseThreshold - 50

	n.Increase(100) // crosses rebaseThreshold, triggers rebase
	require.Less(t, n.WriteCounter(), uint64(rebaseThreshold))

	n.NotifySuccess()
	assert.True(t, p.IsDone())
}

func TestReentrantNotifySuccessIsDropped(t *testing.T) {
	n := New(nil)
	p1 := NewPromise()
	p2 := NewPromise()
	n.Add(p1, 10)
	n.Increase(10)

	reentered := false
	p1.Listen(func(error) {
		n.Add(p2, 0)      // due at once: writeCounter is already 10
		n.NotifySuccess() // dropped by the reentrancy guard
		reentered = true
	})

	n.NotifySuccess()
	assert.True(t, reentered)
	assert.False(t, p2.IsDone(), "the reentrant NotifySuccess must not resolve p2")
}
