package protection

import (
	"testing"

	"adaptive-player/internal/errs"
)

func license(initData []byte, keySystem string) ([]byte, error) {
	return []byte("lic:" + keySystem), nil
}

func candidate(typ string, persistent bool, store Store) KeySystemConfig {
	return KeySystemConfig{
		Type:              typ,
		GetLicense:        license,
		PersistentLicense: persistent,
		LicenseStorage:    store,
		AudioCapabilities: []string{"audio/mp4;codecs=mp4a"},
		VideoCapabilities: []string{"video/mp4;codecs=avc1"},
	}
}

func TestAcquireRejectsConcurrentDriver(t *testing.T) {
	d1, err := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", false, nil)}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer d1.Dispose()

	_, err = Acquire([]KeySystemConfig{candidate("com.widevine.alpha", false, nil)}, true)
	var e *errs.Error
	if !errs.As(err, &e) || !e.Fatal || e.Code != errs.CodeConcurrentOrchestrator {
		t.Fatalf("expected a fatal CONCURRENT_ORCHESTRATOR error, got %v", err)
	}
}

func TestDisposeReleasesSentinelForNextAcquire(t *testing.T) {
	d1, err := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", false, nil)}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d1.Dispose()

	d2, err := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", false, nil)}, true)
	if err != nil {
		t.Fatalf("expected Acquire to succeed after Dispose released the sentinel: %v", err)
	}
	d2.Dispose()
}

func TestOnEncryptedTransitionsToSessioned(t *testing.T) {
	d, err := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", false, nil)}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer d.Dispose()

	if d.State() != Uninitialized {
		t.Fatalf("expected Uninitialized before any OnEncrypted call, got %v", d.State())
	}

	if err := d.OnEncrypted("cenc", []byte("init-data-1"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.State() != Sessioned {
		t.Fatalf("expected Sessioned, got %v", d.State())
	}
	if !d.Ready() {
		t.Fatal("expected Ready() once Configured/Sessioned")
	}
}

func TestOnEncryptedSameFingerprintIsNoop(t *testing.T) {
	d, _ := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", false, nil)}, true)
	defer d.Dispose()

	initData := []byte("init-data-1")
	if err := d.OnEncrypted("cenc", initData, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.OnEncrypted("cenc", initData, nil); err != nil {
		t.Fatalf("expected repeated OnEncrypted with the same initData to be a no-op, got %v", err)
	}
}

func TestOnEncryptedRejectsPersistentLicenseWithoutStorage(t *testing.T) {
	d, _ := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", true, nil)}, true)
	defer d.Dispose()

	err := d.OnEncrypted("cenc", []byte("init-data-1"), nil)
	var e *errs.Error
	if !errs.As(err, &e) || !e.Fatal || e.Code != errs.CodeInvalidKeySystem {
		t.Fatalf("expected a fatal INVALID_KEY_SYSTEM error, got %v", err)
	}
}

func TestOnEncryptedRejectsNoAcceptedCandidate(t *testing.T) {
	d, _ := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", false, nil)}, true)
	defer d.Dispose()

	err := d.OnEncrypted("cenc", []byte("init-data-1"), func(KeySystemConfig) bool { return false })
	var e *errs.Error
	if !errs.As(err, &e) || !e.Fatal || e.Code != errs.CodeInvalidKeySystem {
		t.Fatalf("expected a fatal INVALID_KEY_SYSTEM error when nothing is accepted, got %v", err)
	}
}

func TestOnEncryptedRejectsConfigurationSwitchMidPlayback(t *testing.T) {
	candidates := []KeySystemConfig{candidate("com.widevine.alpha", false, nil)}
	d, _ := Acquire(candidates, true)
	defer d.Dispose()

	if err := d.OnEncrypted("cenc", []byte("init-data-1"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mutate the chosen candidate's capabilities after the fact to simulate
	// a configuration that would hash differently for a new initData.
	d.chosen.VideoCapabilities = []string{"video/mp4;codecs=hev1"}

	err := d.OnEncrypted("cenc", []byte("init-data-2"), nil)
	var e *errs.Error
	if !errs.As(err, &e) || !e.Fatal || e.Code != errs.CodeInvalidKeySystem {
		t.Fatalf("expected a fatal configuration-switch error, got %v", err)
	}
}

// TestConfigHashIsOrderSensitive pins the decision recorded in DESIGN.md:
// capability order is part of configuration equivalence.
func TestConfigHashIsOrderSensitive(t *testing.T) {
	a := candidate("com.widevine.alpha", false, nil)
	a.VideoCapabilities = []string{"v1", "v2"}
	b := candidate("com.widevine.alpha", false, nil)
	b.VideoCapabilities = []string{"v2", "v1"}

	if configHash(&a) == configHash(&b) {
		t.Fatal("expected differently-ordered capabilities to hash differently")
	}
}

func TestFingerprintIsStablePerInput(t *testing.T) {
	a := Fingerprint("cenc", []byte("x"))
	b := Fingerprint("cenc", []byte("x"))
	c := Fingerprint("cenc", []byte("y"))
	if a != b {
		t.Fatal("expected the same input to produce the same fingerprint")
	}
	if a == c {
		t.Fatal("expected different init data to produce different fingerprints")
	}
}

type memStore struct {
	records []Record
}

func (s *memStore) Load() ([]Record, error) { return s.records, nil }
func (s *memStore) Save(records []Record) error {
	s.records = records
	return nil
}

func TestPersistentLicenseSurvivesAcrossDrivers(t *testing.T) {
	store := &memStore{}

	d1, err := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", true, store)}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	initData := []byte("init-data-1")
	if err := d1.OnEncrypted("cenc", initData, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d1.Dispose()

	if len(store.records) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(store.records))
	}

	d2, err := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", true, store)}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer d2.Dispose()

	if err := d2.OnEncrypted("cenc", initData, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d2.State() != Sessioned {
		t.Fatalf("expected a restored session to reach Sessioned directly, got %v", d2.State())
	}
}

func TestDisposeUnsetsSharedStateWhenRequested(t *testing.T) {
	d, _ := Acquire([]KeySystemConfig{candidate("com.widevine.alpha", false, nil)}, true)
	if err := d.OnEncrypted("cenc", []byte("init-data-1"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.Dispose()

	if d.Shared().KeySystem != "" || d.Shared().MediaKeys != nil {
		t.Fatal("expected shared state cleared on Dispose when shouldUnsetOnDispose is true")
	}
}
