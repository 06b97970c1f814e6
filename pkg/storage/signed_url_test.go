package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("export-secret", time.Hour)

	token, expiresAt, err := signer.Generate("job-42", "unresolved/2026-03-02.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	jobID, relPath, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
	assert.Equal(t, "unresolved/2026-03-02.csv", relPath)
	assert.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpiredAllowedForCleanup(t *testing.T) {
	signer := NewSignedURLSigner("export-secret", time.Millisecond*10)
	token, _, err := signer.Generate("job-42", "day_log/2026-03-02.pdf")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	// Cleanup still needs the path of a stale export.
	jobID, relPath, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
	assert.Equal(t, "day_log/2026-03-02.pdf", relPath)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("export-secret", time.Hour)
	token, _, err := signer.Generate("job-42", "unresolved/2026-03-02.csv")
	require.NoError(t, err)

	payload, signature, ok := strings.Cut(token, ".")
	require.True(t, ok)

	_, _, _, err = signer.Parse(payload+"x."+signature, false)
	assert.Error(t, err)

	other := NewSignedURLSigner("different-secret", time.Hour)
	_, _, _, err = other.Parse(token, false)
	assert.Error(t, err)

	_, _, _, err = signer.Parse("not-a-token", false)
	assert.Error(t, err)
}
