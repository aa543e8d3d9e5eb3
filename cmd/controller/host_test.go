package main

import (
	"testing"
)

func TestCommandHostRestart(t *testing.T) {
	h := newCommandHost("true", "")
	if err := h.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}

	if err := newCommandHost("false", "").Restart(); err == nil {
		t.Fatal("expected failing restart command to error")
	}
	if err := newCommandHost("", "").Restart(); err == nil {
		t.Fatal("expected an error without a restart command")
	}
}

func TestCommandHostQuitEndsController(t *testing.T) {
	h := newCommandHost("", "")
	if err := h.Quit(); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if err := h.Quit(); err != nil {
		t.Fatalf("second quit: %v", err)
	}
	select {
	case <-h.quitting:
	default:
		t.Fatal("quit must signal the controller")
	}

	failing := newCommandHost("", "false")
	if err := failing.Quit(); err == nil {
		t.Fatal("expected failing quit command to error")
	}
	select {
	case <-failing.quitting:
	default:
		t.Fatal("a failed quit still ends the controller")
	}
}
