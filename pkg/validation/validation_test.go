package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bookmarks/pkg/domain-errors"
)

type consentRequest struct {
	ConsentVersion string `json:"consent_version" validate:"notblank,max=32"`
}

type windows struct {
	ShortWindow int `validate:"gte=1"`
	LongWindow  int `validate:"gtfield=ShortWindow"`
}

func TestValidate(t *testing.T) {
	t.Run("accepts a valid struct", func(t *testing.T) {
		assert.NoError(t, Validate(consentRequest{ConsentVersion: "2024-06"}))
	})

	t.Run("blank value maps to validation code", func(t *testing.T) {
		err := Validate(consentRequest{ConsentVersion: "   "})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Contains(t, err.Error(), "consent_version must not be blank")
	})

	t.Run("field comparison names both fields", func(t *testing.T) {
		err := Validate(windows{ShortWindow: 60, LongWindow: 30})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "long_window must be greater than short_window")
	})
}

func TestSnakeCase(t *testing.T) {
	for in, want := range map[string]string{
		"ConsentVersion": "consent_version",
		"URL":            "url",
		"JWTSigningKey":  "jwt_signing_key",
		"ShortWindow":    "short_window",
		"":               "",
	} {
		assert.Equal(t, want, snakeCase(in), in)
	}
}
