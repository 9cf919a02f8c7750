package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/jamiebones/cbt-enroll-api/pkg/errors"
)

// accessCodeBytes yields a 12-hex-character code. Short by choice: codes are
// typed by students at a test center.
const accessCodeBytes = 6

type accessCodeLedger interface {
	AccessCodeExists(ctx context.Context, code string) (bool, error)
}

// AccessCodeIssuer generates collision-free single-use enrollment credentials.
// Collisions against the ledger are retried up to a configured bound; running
// out of attempts is an operational alarm, not a caller error.
type AccessCodeIssuer struct {
	ledger      accessCodeLedger
	maxAttempts int
	logger      *zap.Logger
}

// NewAccessCodeIssuer constructs an issuer.
func NewAccessCodeIssuer(ledger accessCodeLedger, maxAttempts int, logger *zap.Logger) *AccessCodeIssuer {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessCodeIssuer{ledger: ledger, maxAttempts: maxAttempts, logger: logger}
}

// Issue returns a code not currently present in the ledger. The uniqueness
// index on access_code remains the authoritative guard; this check keeps the
// common path collision-free.
func (i *AccessCodeIssuer) Issue(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		code, err := randomHexCode()
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate access code")
		}

		exists, err := i.ledger.AccessCodeExists(ctx, code)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check access code uniqueness")
		}
		if !exists {
			return code, nil
		}

		i.logger.Warn("access code collision",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", i.maxAttempts),
		)
	}

	return "", appErrors.Clone(appErrors.ErrExhausted, fmt.Sprintf("access code generation exhausted after %d attempts", i.maxAttempts))
}

func randomHexCode() (string, error) {
	buf := make([]byte, accessCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
