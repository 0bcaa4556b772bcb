package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harborpoint/bookingbridge/pkg/booking"
)

const defaultReceiptLifetime = 72 * time.Hour

// ReceiptClaims carries the identifiers a receipt link resolves.
type ReceiptClaims struct {
	TransactionID string `json:"txn"`
	ReservationID string `json:"res"`
	jwt.RegisteredClaims
}

// ReceiptTokens mints and verifies the HS256 tokens embedded in receipt links.
type ReceiptTokens struct {
	signingKey []byte
	issuer     string
	lifetime   time.Duration
	nowFn      func() time.Time
}

// NewReceiptTokens wires a token minter/verifier.
func NewReceiptTokens(signingKey []byte, issuer string, lifetime time.Duration) (*ReceiptTokens, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("%w: receipt signing key is required", booking.ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, fmt.Errorf("%w: receipt issuer is required", booking.ErrInvalidServiceConfig)
	}
	if lifetime <= 0 {
		lifetime = defaultReceiptLifetime
	}
	return &ReceiptTokens{
		signingKey: signingKey,
		issuer:     issuer,
		lifetime:   lifetime,
		nowFn:      time.Now,
	}, nil
}

// Mint signs a receipt token for a transaction.
func (tokens *ReceiptTokens) Mint(transactionID string, reservationID string) (string, error) {
	if strings.TrimSpace(transactionID) == "" {
		return "", fmt.Errorf("%w: transaction id is required", booking.ErrValidation)
	}
	now := tokens.nowFn()
	claims := ReceiptClaims{
		TransactionID: transactionID,
		ReservationID: reservationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokens.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokens.lifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokens.signingKey)
	if err != nil {
		return "", fmt.Errorf("%w: sign receipt token: %v", booking.ErrDependency, err)
	}
	return signed, nil
}

// Verify parses and validates a receipt token.
func (tokens *ReceiptTokens) Verify(raw string) (ReceiptClaims, error) {
	claims := ReceiptClaims{}
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return tokens.signingKey, nil
	}, jwt.WithIssuer(tokens.issuer), jwt.WithTimeFunc(tokens.nowFn))
	if err != nil || !parsed.Valid {
		return ReceiptClaims{}, fmt.Errorf("%w: invalid receipt token", booking.ErrAuth)
	}
	return claims, nil
}
