package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bookmarks/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty UUIDs"
//
// Justification: pure function enforcing a domain invariant at trust boundaries.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseTokenID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid uuid", func(t *testing.T) {
		raw := uuid.New()
		got, err := ParseUserID(raw.String())
		require.NoError(t, err)
		assert.Equal(t, raw.String(), got.String())
		assert.False(t, got.IsNil())
	})

	t.Run("nil uuid parses but reports IsNil", func(t *testing.T) {
		got, err := ParseTokenID(uuid.Nil.String())
		require.NoError(t, err)
		assert.True(t, got.IsNil())
	})
}

func TestParseSubjectID(t *testing.T) {
	t.Run("trims and accepts provider subjects", func(t *testing.T) {
		got, err := ParseSubjectID("  auth0|abc123 ")
		require.NoError(t, err)
		assert.Equal(t, SubjectID("auth0|abc123"), got)
	})

	t.Run("rejects blank", func(t *testing.T) {
		_, err := ParseSubjectID("   ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects oversized", func(t *testing.T) {
		_, err := ParseSubjectID(strings.Repeat("s", MaxSubjectIDLength+1))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestPrincipalMechanism(t *testing.T) {
	assert.True(t, Principal{Subject: "u", Mechanism: MechanismProgrammatic}.IsProgrammatic())
	assert.False(t, Principal{Subject: "u", Mechanism: MechanismInteractive}.IsProgrammatic())
	assert.False(t, AuthMechanism("cookie").IsValid())
}
