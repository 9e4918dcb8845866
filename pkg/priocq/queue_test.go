package priocq

import (
	"testing"
	"time"
)

func item(c Class, b byte) Item { return Item{Bytes: []byte{b}, Class: c} }

func TestDrainPriorityAndFIFO(t *testing.T) {
	q := New(10)
	q.Push(item(ClassPose, 1))
	q.Push(item(ClassBall, 2))
	q.Push(item(ClassPose, 3))
	q.Push(item(ClassBall, 4))
	q.Push(item(ClassControl, 5))

	got := q.Drain(0)
	want := []byte{5, 2, 4, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("drained %d items", len(got))
	}
	for i, it := range got {
		if it.Bytes[0] != want[i] {
			t.Fatalf("item %d = %d, want %d", i, it.Bytes[0], want[i])
		}
	}
	if q.Len() != 0 {
		t.Fatalf("len after drain = %d", q.Len())
	}
}

func TestFullQueueDropsPoseBeforeBall(t *testing.T) {
	var shed []Item
	q := New(3, WithOnShed(func(it Item) { shed = append(shed, it) }))
	q.Push(item(ClassBall, 1))
	q.Push(item(ClassPose, 2))
	q.Push(item(ClassPose, 3))

	// evicts pose 2
	if !q.Push(item(ClassBall, 4)) {
		t.Fatalf("ball push rejected")
	}
	// evicts pose 3
	if !q.Push(item(ClassPose, 5)) {
		t.Fatalf("pose push should supersede older pose")
	}
	// evicts pose 5
	if !q.Push(item(ClassBall, 6)) {
		t.Fatalf("ball push rejected")
	}
	if len(shed) != 0 {
		t.Fatalf("ball shed while poses were available: %v", shed)
	}
	// nothing supersedable left: incoming pose is dropped
	if q.Push(item(ClassPose, 7)) {
		t.Fatalf("pose accepted into a queue full of ball frames")
	}
	// a control push sheds the oldest ball and reports it
	if !q.Push(item(ClassControl, 8)) {
		t.Fatalf("control push rejected")
	}
	if len(shed) != 1 || shed[0].Bytes[0] != 1 {
		t.Fatalf("shed = %v", shed)
	}

	st := q.Stats()
	if st.DroppedPose != 4 || st.ShedBall != 1 {
		t.Fatalf("stats = %+v", st)
	}
	got := q.Drain(0)
	if len(got) != 3 || got[0].Bytes[0] != 8 || got[1].Bytes[0] != 4 || got[2].Bytes[0] != 6 {
		t.Fatalf("remaining = %v", got)
	}
}

func TestFullOfControlRejects(t *testing.T) {
	var shed int
	q := New(1, WithOnShed(func(Item) { shed++ }))
	q.Push(item(ClassControl, 1))
	if q.Push(item(ClassBall, 2)) {
		t.Fatalf("ball accepted")
	}
	if shed != 1 {
		t.Fatalf("incoming ball not reported as shed")
	}
	if q.Push(item(ClassControl, 3)) {
		t.Fatalf("control accepted past capacity")
	}
	if st := q.Stats(); st.Rejected != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPopBlocksUntilPushOrStop(t *testing.T) {
	q := New(4)
	done := make(chan Item, 1)
	go func() {
		it, ok := q.Pop(nil)
		if ok {
			done <- it
		}
	}()
	time.Sleep(10 * time.Millisecond)
	q.Push(item(ClassBall, 9))
	select {
	case it := <-done:
		if it.Bytes[0] != 9 {
			t.Fatalf("popped %v", it)
		}
	case <-time.After(time.Second):
		t.Fatalf("pop did not wake")
	}

	stop := make(chan struct{})
	close(stop)
	if _, ok := q.Pop(stop); ok {
		t.Fatalf("pop on empty stopped queue returned an item")
	}
}

func TestDrainMax(t *testing.T) {
	q := New(8)
	for i := byte(0); i < 5; i++ {
		q.Push(item(ClassBall, i))
	}
	if got := q.Drain(2); len(got) != 2 || got[1].Bytes[0] != 1 {
		t.Fatalf("drain(2) = %v", got)
	}
	if q.Len() != 3 {
		t.Fatalf("len = %d", q.Len())
	}
}
