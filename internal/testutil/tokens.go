package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/work-manager-team/Work-Management-sub001/internal/auth"
)

// Secret is the signing secret shared by test verifiers and tokens.
var Secret = []byte("test-secret")

// Verifier returns a verifier for tokens made by Token.
func Verifier() *auth.Verifier {
	return auth.NewVerifier(auth.Options{Secret: Secret})
}

// Token signs a one-hour token for userID.
func Token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := auth.Signer{Secret: Secret}.Sign(userID, time.Hour)
	require.NoError(t, err)
	return token
}
