package protection

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"adaptive-player/internal/errs"
)

// State is the Protection Driver's lifecycle state machine.
type State int

const (
	Uninitialized State = iota
	Querying
	Configured
	Sessioned
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Querying:
		return "querying"
	case Configured:
		return "configured"
	case Sessioned:
		return "sessioned"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// KeySystemConfig is one candidate in the user-supplied keySystems[] list.
type KeySystemConfig struct {
	Type               string
	GetLicense         func(initData []byte, keySystem string) ([]byte, error)
	ServerCertificate  []byte
	PersistentLicense  bool
	LicenseStorage     Store
	AudioCapabilities  []string // included in the configuration-equivalence hash
	VideoCapabilities  []string
}

// ProtectionState is the process-wide singleton shared between the
// element, the protection driver, and any media keys attached: an
// explicitly constructed value passed by reference, guarded by the
// sentinel in Driver.Acquire rather than hidden behind package-level state.
type ProtectionState struct {
	KeySystem     string
	Configuration string // canonical hash of the accepted KeySystemConfig
	Element       any
	MediaKeys     any
}

// sentinel enforces "at most one orchestrator may be active per process at
// a time" for protection. It is package-level because the platform
// constraint it models (one CDM per element) is itself process-wide.
var sentinel struct {
	mu     sync.Mutex
	inUse  bool
}

// Driver implements the Protection state machine.
type Driver struct {
	mu        sync.Mutex
	state     State
	candidates []KeySystemConfig
	chosen    *KeySystemConfig
	shared    *ProtectionState
	sessions  *StoredSessions
	sessionIDs map[string]string // fingerprint -> opened session id
	shouldUnsetOnDispose bool
}

// Acquire constructs a Driver for the given key-system candidates,
// asserting no other Driver is currently active in this process.
func Acquire(candidates []KeySystemConfig, shouldUnsetOnDispose bool) (*Driver, error) {
	sentinel.mu.Lock()
	defer sentinel.mu.Unlock()
	if sentinel.inUse {
		return nil, errs.NewFatal(errs.KindEncryptedMedia, errs.CodeConcurrentOrchestrator, fmt.Errorf("a protection driver is already active in this process"))
	}
	sentinel.inUse = true

	return &Driver{
		state:      Uninitialized,
		candidates: candidates,
		shared:     &ProtectionState{},
		sessionIDs: make(map[string]string),
		shouldUnsetOnDispose: shouldUnsetOnDispose,
	}, nil
}

// State returns the driver's current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Fingerprint computes a stable hash of initDataType+initData, used to
// detect whether a new encrypted-event payload is the same license
// request seen before.
func Fingerprint(initDataType string, initData []byte) string {
	h := xxhash.New()
	_, _ = h.WriteString(initDataType)
	_, _ = h.Write(initData)
	return fmt.Sprintf("%016x", h.Sum64())
}

// configHash defines configuration equivalence for the "same configuration"
// check: capability order matters, mirroring observed platform behavior
// rather than a normalized/sorted equivalence.
func configHash(c *KeySystemConfig) string {
	h := xxhash.New()
	_, _ = h.WriteString(c.Type)
	for _, a := range c.AudioCapabilities {
		_, _ = h.WriteString("a:" + a)
	}
	for _, v := range c.VideoCapabilities {
		_, _ = h.WriteString("v:" + v)
	}
	if c.PersistentLicense {
		_, _ = h.WriteString("persistent")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// OnEncrypted handles an `encrypted` event for the given initData. The
// first call picks the first accepted key-system candidate and transitions
// Uninitialized -> Querying -> Configured; it requires a storage pair when
// the accepted candidate requests PersistentLicense (candidates that are
// not accepted are not checked). Subsequent calls with a
// matching fingerprint are a no-op; calls whose configuration differs from
// the established one fail with InvalidKeySystem.
func (d *Driver) OnEncrypted(initDataType string, initData []byte, accepts func(KeySystemConfig) bool) error {
	fp := Fingerprint(initDataType, initData)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Disposed {
		return errs.NewFatal(errs.KindEncryptedMedia, errs.CodeInvalidKeySystem, fmt.Errorf("driver disposed"))
	}

	if _, exists := d.sessionIDs[fp]; exists {
		return nil // already sessioned for this initData
	}

	if d.chosen == nil {
		d.state = Querying
		for i := range d.candidates {
			c := &d.candidates[i]
			if accepts == nil || accepts(*c) {
				if c.PersistentLicense && c.LicenseStorage == nil {
					return errs.NewFatal(errs.KindEncryptedMedia, errs.CodeInvalidKeySystem, fmt.Errorf("persistentLicense=true requires licenseStorage"))
				}
				d.chosen = c
				break
			}
		}
		if d.chosen == nil {
			return errs.NewFatal(errs.KindEncryptedMedia, errs.CodeInvalidKeySystem, fmt.Errorf("no accepted key system among %d candidates", len(d.candidates)))
		}

		sessions, err := NewStoredSessions(storeOrNop(d.chosen))
		if err != nil {
			return errs.NewFatal(errs.KindEncryptedMedia, errs.CodeInvalidKeySystem, err)
		}
		d.sessions = sessions

		d.shared.KeySystem = d.chosen.Type
		d.shared.Configuration = configHash(d.chosen)
		d.shared.MediaKeys = struct{}{} // stand-in for a real MediaKeys handle
		d.state = Configured
	} else if configHash(d.chosen) != d.shared.Configuration {
		return errs.NewFatal(errs.KindEncryptedMedia, errs.CodeInvalidKeySystem, fmt.Errorf("key-system configuration switch mid-playback is not supported"))
	}

	if rec, ok := d.sessions.Get(fp); ok {
		d.sessionIDs[fp] = rec.SessionID
		d.state = Sessioned
		return nil
	}

	license, err := d.chosen.GetLicense(initData, d.chosen.Type)
	if err != nil {
		return errs.New(errs.KindEncryptedMedia, "LICENSE_REQUEST_FAILED", err) // non-fatal: surfaced as Warning by caller
	}
	sessionID := fmt.Sprintf("session-%s-%x", fp, len(license))
	d.sessionIDs[fp] = sessionID
	d.state = Sessioned

	if d.chosen.PersistentLicense {
		return d.sessions.Put(Record{Fingerprint: fp, SessionID: sessionID, KeySystem: d.chosen.Type})
	}
	return nil
}

func storeOrNop(c *KeySystemConfig) Store {
	if c.LicenseStorage != nil {
		return c.LicenseStorage
	}
	return NopStore{}
}

// Ready reports whether the driver has reached Configured or beyond,
// gating the first segment append ("mediaKeys is attached
// before any segment is appended").
func (d *Driver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == Configured || d.state == Sessioned
}

// Shared returns the process-wide ProtectionState (passed by reference,
// never hidden behind package-level mutable state).
func (d *Driver) Shared() *ProtectionState {
	return d.shared
}

// Dispose closes sessions, clears ProtectionState when the driver was
// acquired with shouldUnsetOnDispose (otherwise ProtectionState is left as
// is), and releases the process sentinel.
func (d *Driver) Dispose() {
	d.mu.Lock()
	if d.shouldUnsetOnDispose {
		d.shared.MediaKeys = nil
		d.shared.Configuration = ""
		d.shared.KeySystem = ""
	}
	d.sessionIDs = map[string]string{}
	d.state = Disposed
	d.mu.Unlock()

	sentinel.mu.Lock()
	sentinel.inUse = false
	sentinel.mu.Unlock()
}
