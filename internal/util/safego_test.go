package util

import (
	"testing"
	"time"
)

func TestSafeGo(t *testing.T) {
	executed := make(chan struct{}, 1)

	done := SafeGo("test", func() {
		executed <- struct{}{}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SafeGo did not finish")
	}

	select {
	case <-executed:
	default:
		t.Error("SafeGo did not execute the function")
	}
}

func TestSafeGoWithPanic(t *testing.T) {
	done := SafeGo("panicky", func() {
		panic("test panic")
	})

	select {
	case <-done:
		// Recovered without crashing the test binary
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for panicking goroutine")
	}
}
