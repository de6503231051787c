package console

import (
	"testing"
	"time"

	"github.com/loadforge/agent/internal/agent/properties"
)

func TestListenerReceivedDoesNotConsume(t *testing.T) {
	l := NewListener()
	l.deliver(&Stop{})

	if !l.Received(FlagStop) {
		t.Fatal("Received(FlagStop) = false, want true")
	}
	if !l.Received(FlagStop) {
		t.Fatal("second Received(FlagStop) = false, want true: Received must not consume")
	}
	if !l.CheckForMessage(FlagStop) {
		t.Fatal("CheckForMessage(FlagStop) = false, want true")
	}
	if l.Received(FlagStop) {
		t.Fatal("Received(FlagStop) after CheckForMessage = true, want false")
	}
}

func TestListenerCheckForMessageClearsOnlyMatchedBits(t *testing.T) {
	l := NewListener()
	l.deliver(&Stop{})
	l.deliver(&Reset{})

	if !l.CheckForMessage(FlagStop) {
		t.Fatal("CheckForMessage(FlagStop) = false, want true")
	}
	if l.Received(FlagStop) {
		t.Fatal("FlagStop still set after CheckForMessage")
	}
	if !l.Received(FlagReset) {
		t.Fatal("FlagReset was cleared by an unrelated CheckForMessage call")
	}
}

func TestListenerDeliverAnyRecordsTheMatchingFlag(t *testing.T) {
	cases := []struct {
		name string
		m    Message
		want Flags
	}{
		{"start", &StartGrinder{}, FlagStart},
		{"stop", &Stop{}, FlagStop},
		{"shutdown", &Shutdown{}, FlagShutdown},
		{"reset", &Reset{}, FlagReset},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l := NewListener()
			l.deliver(c.m)
			if !l.CheckForMessage(c.want) {
				t.Fatalf("deliver(%T) did not raise %v", c.m, c.want)
			}
		})
	}
}

func TestListenerGetLastStartGrinderMessage(t *testing.T) {
	l := NewListener()
	if got := l.GetLastStartGrinderMessage(); got != nil {
		t.Fatalf("GetLastStartGrinderMessage before any start = %v, want nil", got)
	}

	props := properties.New("/tmp")
	l.deliver(&StartGrinder{Properties: props, AgentNumber: 3})

	got := l.GetLastStartGrinderMessage()
	if got == nil || got.AgentNumber != 3 {
		t.Fatalf("GetLastStartGrinderMessage = %v, want AgentNumber 3", got)
	}
	if l.Received(FlagStart) {
		t.Fatal("FlagStart still set after GetLastStartGrinderMessage")
	}
	if got := l.GetLastStartGrinderMessage(); got != nil {
		t.Fatalf("second GetLastStartGrinderMessage = %v, want nil (consumed)", got)
	}
}

func TestListenerDiscardMessages(t *testing.T) {
	l := NewListener()
	l.deliver(&Stop{})
	l.deliver(&Reset{})

	l.DiscardMessages(FlagStop)

	if l.Received(FlagStop) {
		t.Fatal("FlagStop still set after DiscardMessages")
	}
	if !l.Received(FlagReset) {
		t.Fatal("DiscardMessages(FlagStop) cleared FlagReset too")
	}
}

func TestListenerWaitForMessageReturnsOnDeliver(t *testing.T) {
	l := NewListener()
	done := make(chan struct{})
	go func() {
		l.WaitForMessage()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitForMessage returned before anything was delivered")
	case <-time.After(20 * time.Millisecond):
	}

	l.deliver(&Stop{})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForMessage did not return after deliver")
	}
}

func TestListenerWaitForMessageReturnsOnShutdown(t *testing.T) {
	l := NewListener()
	done := make(chan struct{})
	go func() {
		l.WaitForMessage()
		close(done)
	}()

	l.Shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForMessage did not return after Shutdown")
	}
	if !l.Received(FlagShutdown) {
		t.Fatal("Shutdown did not raise FlagShutdown")
	}
}

func TestListenerHandlerAlwaysReportsHandled(t *testing.T) {
	l := NewListener()
	h := l.Handler()

	if !h(&Stop{}) {
		t.Fatal("Handler()(m) = false, want true")
	}
	if !l.Received(FlagStop) {
		t.Fatal("Handler did not deliver the message to the listener")
	}
}
