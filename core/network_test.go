package core

import "testing"

func TestBroadcastWithoutHookFails(t *testing.T) {
	SetBroadcaster(nil)
	if err := Broadcast("test", []byte("payload")); err == nil {
		t.Fatalf("expected error when no broadcaster is configured")
	}
}

func TestBroadcastUsesConfiguredHook(t *testing.T) {
	var gotTopic string
	var gotData []byte
	SetBroadcaster(func(topic string, data []byte) error {
		gotTopic, gotData = topic, data
		return nil
	})
	defer SetBroadcaster(nil)

	if err := Broadcast("rad/ref-advert", []byte("payload")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if gotTopic != "rad/ref-advert" || string(gotData) != "payload" {
		t.Fatalf("unexpected broadcast: topic=%s data=%s", gotTopic, gotData)
	}
}
