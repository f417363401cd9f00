package mdns

import "testing"

func TestNewAdvertiser(t *testing.T) {
	cfg := Config{
		Port:         9223,
		Name:         "test-relay",
		AuthRequired: true,
	}

	advertiser := NewAdvertiser(cfg)
	if advertiser == nil {
		t.Fatal("NewAdvertiser returned nil")
	}
	if advertiser.config.Port != 9223 {
		t.Errorf("expected port 9223, got %d", advertiser.config.Port)
	}
	if advertiser.config.Name != "test-relay" {
		t.Errorf("expected name test-relay, got %s", advertiser.config.Name)
	}
	if !advertiser.config.AuthRequired {
		t.Error("expected AuthRequired to be set")
	}
}

func TestAdvertiserNotRunningInitially(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 9223})

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running before Start()")
	}
}

func TestAdvertiserStopBeforeStart(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 9223})

	// Stop before start should be a no-op (no panic)
	advertiser.Stop()

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestAdvertiserMultipleStops(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 9223})

	advertiser.Stop()
	advertiser.Stop()
	advertiser.Stop()

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

// TestAdvertiserStartStop requires network access and may not work in all
// CI environments.
func TestAdvertiserStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	advertiser := NewAdvertiser(Config{
		Port: 9223,
		Name: "test-mdns-relay",
	})

	if err := advertiser.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if !advertiser.IsRunning() {
		t.Error("advertiser should be running after Start()")
	}

	// Double start should be a no-op
	if err := advertiser.Start(); err != nil {
		t.Fatalf("second Start() should be no-op, got error: %v", err)
	}

	advertiser.Stop()

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestServiceType(t *testing.T) {
	if ServiceType != "_tabremote._tcp" {
		t.Errorf("unexpected service type %s", ServiceType)
	}
}
