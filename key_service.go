package main

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
	"github.com/erc7824/nitrolite/keynode/pkg/native"
	"github.com/erc7824/nitrolite/keynode/pkg/pkey"
	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

const (
	tracerName    = "github.com/erc7824/nitrolite/keynode"
	defaultDigest = "sha256"
)

var (
	ErrInvalidKeyName     = errors.New("invalid key name")
	ErrInvalidKeyMaterial = errors.New("invalid key material")
)

// errorKind extends pkey.Kind with the key store and service errors.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrKeyExists):
		return "key_exists"
	case errors.Is(err, ErrInvalidKeyName):
		return "invalid_key_name"
	case errors.Is(err, ErrInvalidKeyMaterial):
		return "invalid_key_material"
	default:
		return pkey.Kind(err)
	}
}

// publicComponents are the components safe to return to clients.
var publicComponents = []string{"modulus", "public_exponent"}

// KeyInfo describes a stored key without exposing private material.
type KeyInfo struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Algorithm   string    `json:"algorithm"`
	Private     bool      `json:"private"`
	Bits        int       `json:"bits"`
	Size        int       `json:"size,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	// Present lists every component the key holds.
	Present []string `json:"components,omitempty"`
	// Public holds the public components as 0x-hex.
	Public    map[string]string `json:"public,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// KeyService imports, describes and signs with stored keys. Every call opens
// its own key object, so a KeyService is safe for concurrent use.
type KeyService struct {
	store   *KeyStore
	metrics *Metrics
	tracer  trace.Tracer
}

func NewKeyService(store *KeyStore, metrics *Metrics) *KeyService {
	return &KeyService{
		store:   store,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Import parses PEM key material, refuses families without a key object
// variant and stores the key under name.
func (s *KeyService) Import(ctx context.Context, name string, pemData []byte) (info *KeyInfo, err error) {
	ctx, span, logger := s.startSpan(ctx, "KeyService.Import", attribute.String("key.name", name))
	defer func() { endSpan(span, err) }()

	if !keyNameRegex.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKeyName, name)
	}

	h, err := native.ParsePEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeyMaterial, err)
	}
	defer h.Free()

	key, err := pkey.FromNative(h)
	if err != nil {
		logger.Warn("refused key import", "name", name, "kind", pkey.Kind(err), "error", err)
		return nil, err
	}
	defer key.Close()

	fingerprint, err := keyFingerprint(key)
	if err != nil {
		return nil, err
	}
	canonical, err := key.MarshalPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}

	rec := &KeyRecord{
		Name:        name,
		Algorithm:   key.Algorithm().String(),
		Private:     key.IsPrivate(),
		Bits:        key.Bits(),
		Fingerprint: fingerprint,
		PEM:         string(canonical),
	}
	if err := s.store.WithContext(ctx).Create(rec); err != nil {
		return nil, err
	}

	s.metrics.KeysImported.WithLabelValues(rec.Algorithm).Inc()
	s.metrics.KeysStored.Inc()
	logger.Info("imported key", "id", rec.ID, "name", rec.Name, "algorithm", rec.Algorithm, "private", rec.Private)

	return describeKey(rec, key), nil
}

// ImportManifest imports every manifest key whose name is not stored yet.
func (s *KeyService) ImportManifest(ctx context.Context, keys []ManifestKey) (err error) {
	ctx, span, logger := s.startSpan(ctx, "KeyService.ImportManifest", attribute.Int("manifest.keys", len(keys)))
	defer func() { endSpan(span, err) }()

	store := s.store.WithContext(ctx)
	for _, k := range keys {
		if _, err := store.GetByName(k.Name); err == nil {
			logger.Debug("manifest key already stored", "name", k.Name)
			continue
		} else if !errors.Is(err, ErrKeyNotFound) {
			return err
		}

		data, err := os.ReadFile(k.Path)
		if err != nil {
			return fmt.Errorf("failed to read key %q: %w", k.Name, err)
		}
		if _, err := s.Import(ctx, k.Name, data); err != nil {
			return fmt.Errorf("failed to import key %q: %w", k.Name, err)
		}
	}
	return nil
}

// Describe returns details of the key referenced by ID or name.
func (s *KeyService) Describe(ctx context.Context, ref string) (info *KeyInfo, err error) {
	ctx, span, _ := s.startSpan(ctx, "KeyService.Describe", attribute.String("key.ref", ref))
	defer func() { endSpan(span, err) }()

	rec, err := s.store.WithContext(ctx).Resolve(ref)
	if err != nil {
		return nil, err
	}

	key, err := openKey(rec)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	return describeKey(rec, key), nil
}

// List returns summaries of stored keys. Components are not included.
func (s *KeyService) List(ctx context.Context, options ListOptions) (infos []KeyInfo, err error) {
	ctx, span, _ := s.startSpan(ctx, "KeyService.List")
	defer func() { endSpan(span, err) }()

	recs, err := s.store.WithContext(ctx).List(options)
	if err != nil {
		return nil, err
	}

	infos = make([]KeyInfo, 0, len(recs))
	for i := range recs {
		infos = append(infos, recordInfo(&recs[i]))
	}
	return infos, nil
}

// Sign signs msg with the referenced key. An empty digest selects sha256.
func (s *KeyService) Sign(ctx context.Context, ref, digest string, msg []byte) (sig sign.Signature, err error) {
	if digest == "" {
		digest = defaultDigest
	}
	digestLabel := "unknown"
	if md, err := native.DigestByName(digest); err == nil {
		digestLabel = md.Name()
	}

	ctx, span, logger := s.startSpan(ctx, "KeyService.Sign",
		attribute.String("key.ref", ref),
		attribute.String("sign.digest", digestLabel),
		attribute.Int("sign.message_size", len(msg)),
	)
	start := time.Now()
	defer func() {
		s.metrics.SignRequests.WithLabelValues(digestLabel, errorKind(err)).Inc()
		s.metrics.SignDuration.Observe(time.Since(start).Seconds())
		endSpan(span, err)
	}()

	rec, err := s.store.WithContext(ctx).Resolve(ref)
	if err != nil {
		return nil, err
	}

	key, err := openKey(rec)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	raw, err := key.Sign(pkey.DigestName(digest), msg)
	if err != nil {
		logger.Warn("sign failed", "key", rec.Name, "digest", digestLabel, "kind", pkey.Kind(err), "error", err)
		return nil, err
	}

	logger.Debug("signed message", "key", rec.Name, "digest", digestLabel, "size", len(raw))
	return sign.Signature(raw), nil
}

// Delete removes the referenced key.
func (s *KeyService) Delete(ctx context.Context, ref string) (err error) {
	ctx, span, logger := s.startSpan(ctx, "KeyService.Delete", attribute.String("key.ref", ref))
	defer func() { endSpan(span, err) }()

	store := s.store.WithContext(ctx)
	rec, err := store.Resolve(ref)
	if err != nil {
		return err
	}
	if err := store.Delete(rec.ID); err != nil {
		return err
	}

	s.metrics.KeysStored.Dec()
	logger.Info("deleted key", "id", rec.ID, "name", rec.Name)
	return nil
}

// startSpan starts a child span of ctx. The returned context carries the span
// and a logger recording to it; store queries made under it inherit both.
func (s *KeyService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, log.Logger) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	ctx = log.SetContextLogger(ctx, log.FromContext(ctx))
	return ctx, span, log.FromContext(ctx)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
	}
	span.End()
}

// openKey rebuilds a key object from a stored record. The caller closes it.
func openKey(rec *KeyRecord) (*pkey.Key, error) {
	h, err := native.ParsePEM([]byte(rec.PEM))
	if err != nil {
		return nil, fmt.Errorf("stored key %s is corrupt: %w", rec.ID, err)
	}
	defer h.Free()

	return pkey.FromNative(h)
}

func keyFingerprint(key *pkey.Key) (string, error) {
	pubPEM, err := key.PublicPEM()
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return "", errors.New("failed to encode public key: empty PEM output")
	}
	return sign.Fingerprint(block.Bytes), nil
}

func recordInfo(rec *KeyRecord) KeyInfo {
	return KeyInfo{
		ID:          rec.ID,
		Name:        rec.Name,
		Algorithm:   rec.Algorithm,
		Private:     rec.Private,
		Bits:        rec.Bits,
		Fingerprint: rec.Fingerprint,
		CreatedAt:   rec.CreatedAt,
	}
}

func describeKey(rec *KeyRecord, key *pkey.Key) *KeyInfo {
	info := recordInfo(rec)
	info.Private = key.IsPrivate()
	info.Size = key.Size()
	info.Public = make(map[string]string, len(publicComponents))

	for _, name := range key.Components() {
		if _, ok := key.Component(name); ok {
			info.Present = append(info.Present, name)
		}
	}
	for _, name := range publicComponents {
		if v, ok := key.Component(name); ok {
			info.Public[name] = hexutil.EncodeBig(v)
		}
	}
	return &info
}
