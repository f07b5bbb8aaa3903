package kvrpc

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestQueueFIFO(t *testing.T) {
	c := qt.New(t)
	q := NewQueue[int]()
	for i := range 5 {
		c.Assert(q.Push(i), qt.IsNil)
	}
	c.Assert(q.Len(), qt.Equals, 5)
	for i := range 5 {
		v, err := q.Pop(context.Background())
		c.Assert(err, qt.IsNil)
		c.Assert(v, qt.Equals, i)
	}
}

func TestQueueCloseDrains(t *testing.T) {
	c := qt.New(t)
	q := NewQueue[string]()
	c.Assert(q.Push("a"), qt.IsNil)
	q.Close()
	q.Close()
	c.Assert(q.Closed(), qt.IsTrue)
	c.Assert(q.Push("b"), qt.Equals, ErrQueueClosed)

	v, err := q.Pop(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, "a")
	_, err = q.Pop(context.Background())
	c.Assert(err, qt.Equals, io.EOF)
}

func TestQueuePopWakesOnPush(t *testing.T) {
	c := qt.New(t)
	q := NewQueue[int]()
	done := make(chan int)
	go func() {
		v, _ := q.Pop(context.Background())
		done <- v
	}()
	time.Sleep(10 * time.Millisecond)
	c.Assert(q.Push(7), qt.IsNil)
	select {
	case v := <-done:
		c.Assert(v, qt.Equals, 7)
	case <-time.After(time.Second):
		c.Fatal("Pop did not wake up")
	}
}

func TestQueuePopWakesOnClose(t *testing.T) {
	c := qt.New(t)
	q := NewQueue[int]()
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = q.Pop(context.Background())
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()
	for _, err := range errs {
		c.Assert(err, qt.Equals, io.EOF)
	}
}

func TestQueuePopContext(t *testing.T) {
	c := qt.New(t)
	q := NewQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	c.Assert(err, qt.Equals, context.DeadlineExceeded)
}
