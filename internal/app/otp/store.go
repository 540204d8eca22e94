package otp

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DeepStacker/email-service/internal/app/config"
)

type record struct {
	code      string
	expiresAt time.Time
}

// Store holds issued one-time passcodes keyed by identity. A single code
// is live per identity at a time; issuing again overwrites the previous
// one. All operations are safe for concurrent use.
type Store struct {
	cfg    config.OTPConfig
	logger *slog.Logger

	mu    sync.Mutex
	codes map[string]record

	now func() time.Time
}

func NewStore(cfg config.OTPConfig, logger *slog.Logger) *Store {
	return &Store{
		cfg:    cfg,
		logger: logger,
		codes:  make(map[string]record),
		now:    time.Now,
	}
}

// Issue generates a fresh numeric code for identity and records it with
// the configured lifetime. Any previously issued code for the same
// identity is replaced.
func (s *Store) Issue(identity string) (string, error) {
	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	s.mu.Lock()
	s.codes[identity] = record{
		code:      code,
		expiresAt: s.now().Add(s.cfg.TTL),
	}
	s.mu.Unlock()

	s.logger.Debug("issued passcode", slog.String("identity", identity))
	return code, nil
}

// Verify reports whether code matches the live passcode for identity.
// Expired codes are evicted on sight. A mismatch leaves the stored code
// in place so the holder can retry. A match evicts the code only when
// the store is configured to consume codes on success.
func (s *Store) Verify(identity, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.codes[identity]
	if !ok {
		return false
	}

	if s.now().After(rec.expiresAt) {
		delete(s.codes, identity)
		s.logger.Debug("passcode expired", slog.String("identity", identity))
		return false
	}

	if rec.code != code {
		return false
	}

	if s.cfg.EvictOnSuccess {
		delete(s.codes, identity)
	}
	return true
}

// generateCode produces length uniformly random decimal digits from a
// CSPRNG. Bytes of 250 and above are rejected: 256 is not a multiple of
// 10, so reducing them would skew the distribution towards low digits.
func generateCode(length int) (string, error) {
	digits := make([]byte, 0, length)
	buf := make([]byte, length)

	for len(digits) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			digits = append(digits, '0'+b%10)
			if len(digits) == length {
				break
			}
		}
	}

	return string(digits), nil
}
