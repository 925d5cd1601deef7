package tamper

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Algorithm selects the MAC scheme.
type Algorithm string

const (
	AlgoHMACSHA256 Algorithm = "HMAC-SHA256"
	AlgoEd25519    Algorithm = "Ed25519"
)

// ErrKeyUnavailable is returned by a KeyProvider when no key material can
// currently be resolved.
var ErrKeyUnavailable = errors.New("tamper: key unavailable")

// KeyMaterial is the resolved signing key for one algorithm.
type KeyMaterial struct {
	Algorithm  Algorithm
	HMACKey    []byte // 32 bytes, for AlgoHMACSHA256
	Ed25519Key ed25519.PrivateKey
	KeyID      string
}

// KeyProvider resolves signing key material; internal/keyprovider's
// Env/File providers satisfy this.
type KeyProvider interface {
	Resolve(ctx context.Context) (KeyMaterial, error)
}

// Config controls the integrity enricher.
type Config struct {
	Enabled  bool
	StreamID string
	StateDir string
}

// Enricher computes MAC and chain-hash fields for each event and
// maintains persisted chain state. It implements the pipeline package's
// Enricher interface (Name/Enrich) structurally, without importing it,
// to avoid a dependency cycle.
type Enricher struct {
	cfg         Config
	keys        KeyProvider
	persistence *ChainStatePersistence
	diagnostics DiagnosticFunc

	mu    sync.Mutex
	state ChainState
	key   KeyMaterial
	ready bool
}

// New constructs an Enricher. Start must be called before Enrich.
func New(cfg Config, keys KeyProvider, diagnostics DiagnosticFunc) *Enricher {
	return &Enricher{cfg: cfg, keys: keys, diagnostics: diagnostics}
}

func (e *Enricher) Name() string { return "tamper-sealed" }

// Start resolves key material and loads persisted chain state.
func (e *Enricher) Start(ctx context.Context) error {
	if !e.cfg.Enabled {
		return nil
	}
	persistence, err := NewChainStatePersistence(e.cfg.StateDir, e.cfg.StreamID, e.diagnostics)
	if err != nil {
		return err
	}
	e.persistence = persistence

	key, err := e.keys.Resolve(ctx)
	if err != nil {
		if e.diagnostics != nil {
			e.diagnostics("tamper", map[string]any{"message": "key resolution failed", "error": err.Error()})
		}
		return nil // best-effort: enrich() below no-ops until a key is available
	}

	e.mu.Lock()
	e.key = key
	e.state = e.persistence.Load()
	if e.state.KeyID == "" {
		e.state.KeyID = key.KeyID
	}
	e.ready = true
	e.mu.Unlock()
	return nil
}

// Stop persists the final chain state and clears key material.
func (e *Enricher) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready || e.persistence == nil {
		return nil
	}
	err := e.persistence.Save(e.state)
	e.key = KeyMaterial{}
	e.ready = false
	return err
}

// Enrich computes this event's MAC and chain hash under an exclusive
// lock (each event's sequence number and previous hash must be assigned
// atomically relative to every other in-flight event on this stream),
// returning an "integrity" field. fields must be the full event (the
// pipeline runner passes timestamp/level/message/logger/correlation_id
// alongside metadata) -- the MAC covers the whole record, not metadata
// alone, so a verifier reconstructing the event from the emitted record
// and canonicalizing it reproduces the same payload. It never returns an
// error: a missing key or disabled config simply yields no integrity
// field, matching enricher.py's "return {}" short-circuits.
func (e *Enricher) Enrich(ctx context.Context, fields map[string]any) (map[string]any, error) {
	if !e.cfg.Enabled {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return nil, nil
	}

	payload, err := Canonicalize(fields)
	if err != nil {
		return nil, nil
	}

	tsStr := formatTSStr(fields["timestamp"])

	seq := e.state.Seq + 1
	mac, err := e.computeMAC(payload)
	if err != nil {
		if e.diagnostics != nil {
			e.diagnostics("tamper", map[string]any{"message": "mac computation failed", "error": err.Error()})
		}
		return nil, nil
	}

	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)

	chainInput := make([]byte, 0, len(e.state.PrevChainHash)+len(mac)+8+len(tsStr))
	chainInput = append(chainInput, e.state.PrevChainHash...)
	chainInput = append(chainInput, mac...)
	chainInput = append(chainInput, seqBytes[:]...)
	chainInput = append(chainInput, tsStr...)
	chainHash := sha256.Sum256(chainInput)

	prevChainHash := e.state.PrevChainHash
	e.state.Seq = seq
	e.state.PrevChainHash = chainHash[:]
	if e.state.KeyID == "" {
		e.state.KeyID = e.key.KeyID
	}

	integrity := IntegrityFields{
		Seq:           seq,
		MAC:           B64URLEncode(mac),
		Algo:          string(e.key.Algorithm),
		KeyID:         e.key.KeyID,
		ChainHash:     B64URLEncode(chainHash[:]),
		PrevChainHash: B64URLEncode(prevChainHash),
	}
	return map[string]any{"integrity": integrity}, nil
}

// formatTSStr renders the event's timestamp field into the chain hash's
// ts_str component, per enricher.py's str(event.get("timestamp")): a
// datetime formats as ISO-8601 with a Z suffix, everything else formats
// as its plain string representation. It never falls back to wall-clock
// time -- the chain hash must be reproducible from the event alone.
func formatTSStr(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func (e *Enricher) computeMAC(payload []byte) ([]byte, error) {
	return Sign(e.key, payload)
}

// Sign computes a MAC/signature over payload using key's algorithm,
// shared by the per-event enricher and the sealed-sink manifest
// generator so both sign with identical semantics.
func Sign(key KeyMaterial, payload []byte) ([]byte, error) {
	switch key.Algorithm {
	case AlgoHMACSHA256:
		if len(key.HMACKey) == 0 {
			return nil, ErrKeyUnavailable
		}
		mac := hmac.New(sha256.New, key.HMACKey)
		mac.Write(payload)
		return mac.Sum(nil), nil
	case AlgoEd25519:
		if len(key.Ed25519Key) == 0 {
			return nil, ErrKeyUnavailable
		}
		return ed25519.Sign(key.Ed25519Key, payload), nil
	default:
		return nil, errors.New("tamper: unsupported algorithm")
	}
}

// Verify recomputes the MAC for payload and compares it against the
// provided integrity fields, supporting property 7 (MAC verifiability).
func Verify(key KeyMaterial, payload []byte, fields IntegrityFields) (bool, error) {
	expectedMAC, err := B64URLDecode(fields.MAC)
	if err != nil {
		return false, err
	}
	switch key.Algorithm {
	case AlgoHMACSHA256:
		mac := hmac.New(sha256.New, key.HMACKey)
		mac.Write(payload)
		return hmac.Equal(mac.Sum(nil), expectedMAC), nil
	case AlgoEd25519:
		return ed25519.Verify(key.Ed25519Key.Public().(ed25519.PublicKey), payload, expectedMAC), nil
	default:
		return false, errors.New("tamper: unsupported algorithm")
	}
}
