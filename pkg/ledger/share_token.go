package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/golang-jwt/jwt/v5"
)

const shareTokenIssuer = "reviv.social_share_unlock"

// ShareClaims binds a share token to one owner and job.
type ShareClaims struct {
	OwnerID restoration.OwnerID
	JobID   restoration.JobID
}

type shareTokenClaims struct {
	Owner string `json:"u"`
	Job   string `json:"j"`
	jwt.RegisteredClaims
}

// ShareTokenSigner mints and verifies HMAC-signed share tokens.
type ShareTokenSigner struct {
	key   []byte
	ttl   time.Duration
	nowFn func() time.Time
}

// NewShareTokenSigner wires a signer. A nil clock uses time.Now.
func NewShareTokenSigner(key []byte, ttl time.Duration, now func() time.Time) (*ShareTokenSigner, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: share signing key is empty", ErrInvalidServiceConfig)
	}
	if ttl <= 0 {
		ttl = time.Duration(DefaultShareTTLSeconds) * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &ShareTokenSigner{key: key, ttl: ttl, nowFn: now}, nil
}

// TTL reports the token lifetime.
func (signer *ShareTokenSigner) TTL() time.Duration {
	return signer.ttl
}

// Mint returns a signed token for the owner and job.
func (signer *ShareTokenSigner) Mint(ownerID restoration.OwnerID, jobID restoration.JobID) (string, time.Time, error) {
	issuedAt := signer.nowFn().UTC()
	expiresAt := issuedAt.Add(signer.ttl)
	claims := shareTokenClaims{
		Owner: ownerID.String(),
		Job:   jobID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    shareTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signer.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign share token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse verifies the signature and expiry and returns the bound claims.
func (signer *ShareTokenSigner) Parse(raw string) (ShareClaims, error) {
	if raw == "" {
		return ShareClaims{}, fmt.Errorf("%w: missing share token", ErrInvalidShareToken)
	}
	claims := &shareTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return signer.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(shareTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(signer.nowFn),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ShareClaims{}, fmt.Errorf("%w: token expired", ErrInvalidShareToken)
		}
		return ShareClaims{}, fmt.Errorf("%w: %v", ErrInvalidShareToken, err)
	}
	ownerID, err := restoration.NewOwnerID(claims.Owner)
	if err != nil {
		return ShareClaims{}, fmt.Errorf("%w: invalid token payload", ErrInvalidShareToken)
	}
	jobID, err := restoration.NewJobID(claims.Job)
	if err != nil {
		return ShareClaims{}, fmt.Errorf("%w: invalid token payload", ErrInvalidShareToken)
	}
	return ShareClaims{OwnerID: ownerID, JobID: jobID}, nil
}
