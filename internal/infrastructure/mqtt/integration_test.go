//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/config"
)

// Integration tests against a real broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	return cfg
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	topics := Topics{Prefix: "modbus2mqtt-int/"}

	pub, err := Connect(integrationConfig("modbus2mqtt-int-pub"), Availability{})
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationConfig("modbus2mqtt-int-sub"), Availability{})
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	var once sync.Once
	err = sub.Subscribe(topics.CommandPattern(6), 1, func(topic string, p []byte) error {
		once.Do(func() { received <- topic + "=" + string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishString(topics.Command(3, 6, 100), "250", 1, false); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}

	select {
	case msg := <-received:
		if want := "modbus2mqtt-int/set/3/6/100=250"; msg != want {
			t.Errorf("received %q, want %q", msg, want)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for command message")
	}
}

func TestIntegration_AvailabilityRetained(t *testing.T) {
	topics := Topics{Prefix: "modbus2mqtt-int-avail/"}

	bridge, err := Connect(integrationConfig("modbus2mqtt-int-bridge"), topics.Availability())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := bridge.MarkOnline(); err != nil {
		t.Fatalf("MarkOnline() error = %v", err)
	}

	watcher, err := Connect(integrationConfig("modbus2mqtt-int-watch"), Availability{})
	if err != nil {
		t.Fatalf("Connect() watcher error = %v", err)
	}
	defer watcher.Close()

	states := make(chan string, 4)
	err = watcher.Subscribe(topics.Connected(), 2, func(_ string, p []byte) error {
		states <- string(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	expect := func(want string) {
		t.Helper()
		select {
		case got := <-states:
			if got != want {
				t.Errorf("availability = %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}

	expect(PayloadOnline)
	bridge.Close()
	expect(PayloadOffline)
}
