// Package sealedsink implements the sealed-sink wrapper (C11): a sink
// decorator that accumulates per-file record metadata and, on rotate or
// stop, emits a signed manifest describing the file it just closed, plus
// (optionally) gzip-compresses the rotated file.
//
// Grounded on original_source's packages/fapilog-tamper/src/fapilog_tamper/
// sealed_sink.py (FileMetadata, ManifestGenerator, SealedSink).
package sealedsink

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joeycumines/chainlog/internal/sink"
	"github.com/joeycumines/chainlog/internal/tamper"
)

// rotationChunkSize is the buffer size used while streaming a rotated
// file through gzip, matching sealed_sink.py's 8192-byte read loop.
const rotationChunkSize = 8192

// FileMetadata tracks bookkeeping for the file currently being written.
type FileMetadata struct {
	Filename      string
	CreatedTS     time.Time
	RecordCount   int
	FirstSeq      *uint64
	LastSeq       *uint64
	FirstTS       string
	LastTS        string
	RootChainHash []byte
	ContinuesFrom string
}

// Config controls manifest generation and rotation behavior.
type Config struct {
	Algorithm       tamper.Algorithm
	KeyID           string
	StateDir        string
	RotateChain     bool // if true, rotated files do NOT chain to the previous file's root hash
	CompressRotated bool
	FsyncOnWrite    bool
}

func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = tamper.AlgoHMACSHA256
	}
	if c.StateDir == "" {
		c.StateDir = "."
	}
	return c
}

// ManifestGenerator builds and signs the manifest describing a closed
// file, grounded on ManifestGenerator in sealed_sink.py.
type ManifestGenerator struct {
	cfg Config
	key tamper.KeyMaterial
}

// NewManifestGenerator constructs a generator. key.HMACKey / key.Ed25519Key
// may be nil/empty, in which case generated manifests carry no signature.
func NewManifestGenerator(cfg Config, key tamper.KeyMaterial) *ManifestGenerator {
	return &ManifestGenerator{cfg: cfg.withDefaults(), key: key}
}

// Generate builds the manifest map for metadata, closed at closedTS, and
// signs it if key material is available.
func (g *ManifestGenerator) Generate(metadata FileMetadata, closedTS time.Time) map[string]any {
	manifest := map[string]any{
		"version":         "1.0",
		"file":            metadata.Filename,
		"created_ts":      metadata.CreatedTS.UTC().Format(time.RFC3339Nano),
		"closed_ts":       closedTS.UTC().Format(time.RFC3339Nano),
		"record_count":    metadata.RecordCount,
		"first_seq":       optionalSeq(metadata.FirstSeq),
		"last_seq":        optionalSeq(metadata.LastSeq),
		"first_ts":        optionalString(metadata.FirstTS),
		"last_ts":         optionalString(metadata.LastTS),
		"root_chain_hash": optionalRootHash(metadata.RootChainHash),
		"algo":            string(g.cfg.Algorithm),
		"key_id":          g.cfg.KeyID,
		"signature_algo":  string(g.cfg.Algorithm),
		"integrity_version": "1.0",
	}
	if metadata.ContinuesFrom != "" {
		manifest["continues_from"] = metadata.ContinuesFrom
	}

	if sig, err := g.sign(manifest); err == nil && sig != nil {
		manifest["signature"] = tamper.B64URLEncode(sig)
	}
	return manifest
}

func optionalSeq(v *uint64) any {
	if v == nil {
		return nil
	}
	return *v
}

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalRootHash(h []byte) any {
	if len(h) == 0 {
		return nil
	}
	return tamper.B64URLEncode(h)
}

func (g *ManifestGenerator) sign(manifest map[string]any) ([]byte, error) {
	payload, err := canonicalManifestPayload(manifest)
	if err != nil {
		return nil, err
	}
	return tamper.Sign(g.key, payload)
}

// canonicalManifestPayload reproduces sealed_sink.py's
// _canonical_manifest_payload: sorted-key, compact, no-HTML-escape JSON
// over every manifest field except "signature".
func canonicalManifestPayload(manifest map[string]any) ([]byte, error) {
	stripped := make(map[string]any, len(manifest))
	for k, v := range manifest {
		if k == "signature" {
			continue
		}
		stripped[k] = v
	}
	return tamper.Canonicalize(stripped)
}

// FilePather is an optional capability an inner sink.Sink may implement
// so the sealed sink can discover the filename it is currently writing
// to, mirroring sealed_sink.py's reflection over path/file_path/filename/
// name attributes.
type FilePather interface {
	Path() string
}

// SealedSink wraps an inner sink.Sink, emitting a signed manifest
// whenever the current file is rotated or the sink is stopped.
type SealedSink struct {
	inner sink.Sink
	cfg   Config
	keys  tamper.KeyProvider

	mu           sync.Mutex
	current      *FileMetadata
	previousRoot string
	manifestGen  *ManifestGenerator
	resolvedKey  tamper.KeyMaterial
}

// New constructs a SealedSink. keys may be nil, in which case manifests
// are generated unsigned.
func New(inner sink.Sink, cfg Config, keys tamper.KeyProvider) *SealedSink {
	return &SealedSink{inner: inner, cfg: cfg.withDefaults(), keys: keys}
}

func (s *SealedSink) Name() string { return s.inner.Name() }

func (s *SealedSink) Start(ctx context.Context) error {
	if err := s.inner.Start(ctx); err != nil {
		return err
	}
	if s.keys != nil {
		if key, err := s.keys.Resolve(ctx); err == nil {
			s.resolvedKey = key
		}
	}
	s.mu.Lock()
	s.manifestGen = NewManifestGenerator(s.cfg, s.resolvedKey)
	s.current = s.newFileMetadata()
	s.mu.Unlock()
	return nil
}

func (s *SealedSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil && cur.RecordCount > 0 {
		if err := s.emitManifest(ctx); err != nil {
			return err
		}
	}
	return s.inner.Stop(ctx)
}

func (s *SealedSink) Write(ctx context.Context, e sink.Event) error {
	s.mu.Lock()
	if s.current == nil {
		s.current = s.newFileMetadata()
	}
	cur := s.current

	integrity, _ := e.Metadata["integrity"].(tamper.IntegrityFields)
	if cur.FirstSeq == nil {
		seq := integrity.Seq
		cur.FirstSeq = &seq
		cur.FirstTS = fmt.Sprintf("%v", e.Timestamp)
	}
	lastSeq := integrity.Seq
	cur.LastSeq = &lastSeq
	cur.LastTS = fmt.Sprintf("%v", e.Timestamp)
	cur.RecordCount++
	if integrity.ChainHash != "" {
		if decoded, err := tamper.B64URLDecode(integrity.ChainHash); err == nil {
			cur.RootChainHash = decoded
		}
	}
	s.mu.Unlock()

	if err := s.inner.Write(ctx, e); err != nil {
		return err
	}

	if s.cfg.FsyncOnWrite {
		s.fsyncCurrentFile()
	}
	return nil
}

// WriteSerialized delegates to the inner sink's SerializedWriter
// capability when present, matching sealed_sink.py's write_serialized.
func (s *SealedSink) WriteSerialized(ctx context.Context, view sink.SerializedView) error {
	w, ok := sink.SupportsSerializedWrite(s.inner)
	if !ok {
		return nil
	}
	return w.WriteSerialized(ctx, view)
}

// Rotate closes the current file's manifest and starts a fresh one,
// forwarding the rotation to the inner sink if it supports it.
func (s *SealedSink) Rotate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked(ctx)
}

func (s *SealedSink) rotateLocked(ctx context.Context) error {
	if err := s.emitManifestLocked(ctx); err != nil {
		return err
	}
	if r, ok := s.inner.(sink.Rotator); ok {
		if err := r.Rotate(ctx); err != nil {
			return err
		}
	}
	s.current = s.newFileMetadata()
	return nil
}

func (s *SealedSink) emitManifest(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitManifestLocked(ctx)
}

func (s *SealedSink) emitManifestLocked(ctx context.Context) error {
	if s.current == nil {
		return nil
	}
	if s.manifestGen == nil {
		s.manifestGen = NewManifestGenerator(s.cfg, s.resolvedKey)
	}

	manifest := s.manifestGen.Generate(*s.current, time.Now())
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("sealedsink: marshal manifest: %w", err)
	}

	manifestPath := s.current.Filename + ".manifest.json"
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return fmt.Errorf("sealedsink: mkdir manifest dir: %w", err)
	}
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		return fmt.Errorf("sealedsink: write manifest: %w", err)
	}

	if rootHash, ok := manifest["root_chain_hash"].(string); ok && rootHash != "" {
		s.previousRoot = rootHash
	}

	if s.cfg.CompressRotated {
		if err := compressFile(s.current.Filename); err != nil {
			return fmt.Errorf("sealedsink: compress rotated file: %w", err)
		}
	}
	return nil
}

func (s *SealedSink) newFileMetadata() *FileMetadata {
	continuesFrom := ""
	if !s.cfg.RotateChain {
		continuesFrom = s.previousRoot
	}
	return &FileMetadata{
		Filename:      s.currentFilename(),
		CreatedTS:     time.Now(),
		ContinuesFrom: continuesFrom,
	}
}

func (s *SealedSink) currentFilename() string {
	if p, ok := s.inner.(FilePather); ok {
		if path := p.Path(); path != "" {
			return path
		}
	}
	return filepath.Join(s.cfg.StateDir, "fapilog.log")
}

func (s *SealedSink) fsyncCurrentFile() {
	path := s.currentFilename()
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}

// compressFile gzips src to src+".gz" via a temp file + fsync + atomic
// rename, then removes src, matching sealed_sink.py's _compress_file.
func compressFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	dest := src + ".gz"
	tempDest := dest + ".tmp"
	out, err := os.OpenFile(tempDest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	buf := make([]byte, rotationChunkSize)
	copyErr := copyInChunks(gz, in, buf)
	if copyErr == nil {
		copyErr = gz.Close()
	}
	if copyErr != nil {
		out.Close()
		os.Remove(tempDest)
		return copyErr
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tempDest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tempDest)
		return err
	}
	if err := os.Rename(tempDest, dest); err != nil {
		return err
	}
	_ = os.Remove(src)
	return nil
}

func copyInChunks(dst io.Writer, src io.Reader, buf []byte) error {
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
