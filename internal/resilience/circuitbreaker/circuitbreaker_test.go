package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func testConfig() Config {
	return Config{
		Name:             "test-circuit",
		MaxRequests:      1,
		Interval:         10 * time.Second,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 0.6,
		MinRequests:      3,
	}
}

func TestNew(t *testing.T) {
	cb := New(testConfig())
	if cb.Name() != "test-circuit" {
		t.Errorf("expected name='test-circuit', got %q", cb.Name())
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected initial state=Closed, got %v", cb.State())
	}
}

func TestCall_ReturnsTypedValue(t *testing.T) {
	cb := New(testConfig())

	got, err := Call(cb, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("Call = %d, %v; want 42, nil", got, err)
	}
}

func TestCircuitBreaker_TripsOpen(t *testing.T) {
	cb := New(testConfig())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, _ = Call(cb, func() (string, error) { return "", boom })
	}
	if !cb.IsOpen() {
		t.Fatalf("expected open circuit, got %v", cb.State())
	}

	called := false
	_, err := Call(cb, func() (string, error) {
		called = true
		return "ok", nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("function must not run while open")
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		_, _ = Call(cb, func() (int, error) { return 0, errors.New("down") })
	}
	time.Sleep(80 * time.Millisecond)

	if _, err := Call(cb, func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected Closed after successful probe, got %v", cb.State())
	}
}

func TestNewWithFilter_IgnoredErrorsDoNotTrip(t *testing.T) {
	business := errors.New("invalid recipient")
	cb := NewWithFilter(testConfig(), func(err error) bool { return errors.Is(err, business) })

	for i := 0; i < 10; i++ {
		_, err := Call(cb, func() (int, error) { return 0, business })
		if !errors.Is(err, business) {
			t.Fatalf("expected business error to pass through, got %v", err)
		}
	}
	if cb.IsOpen() {
		t.Error("ignored errors must not open the circuit")
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"default", DefaultConfig("x"), "x"},
		{"gateway", GatewayConfig("hr"), "gateway-hr"},
		{"directory", DirectoryConfig(), "directory"},
		{"db", DBConfig(), "dedup-cache-db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cfg.Name != tt.want {
				t.Errorf("Name = %q, want %q", tt.cfg.Name, tt.want)
			}
			if tt.cfg.MinRequests == 0 || tt.cfg.FailureThreshold <= 0 {
				t.Errorf("preset must define a trip condition: %+v", tt.cfg)
			}
		})
	}
}
