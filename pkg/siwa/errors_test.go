package siwa_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := siwa.NewError(siwa.ErrCodeInvalidNonce, "nonce token is invalid")
	assert.Equal(t, "INVALID_NONCE: nonce token is invalid", err.Error())

	wrapped := siwa.WrapError(siwa.ErrCodeOracleUnavailable, "registration oracle is unavailable", errors.New("timeout"))
	assert.Equal(t, "ORACLE_UNAVAILABLE: registration oracle is unavailable: timeout", wrapped.Error())
}

func TestError_Is(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("verify: %w", siwa.WrapError(siwa.ErrCodeNonceReplayed, "used", cause))

	assert.True(t, errors.Is(err, siwa.ErrNonceReplayed))
	assert.False(t, errors.Is(err, siwa.ErrNonceExpired))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, siwa.ErrCodeNonceReplayed, siwa.GetErrorCode(err))
	assert.Equal(t, "", siwa.GetErrorCode(cause))
}

func TestKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		kind   siwa.Kind
		status int
	}{
		{siwa.ErrCodeInvalidAddress, siwa.KindInput, http.StatusBadRequest},
		{siwa.ErrCodeMissingField, siwa.KindInput, http.StatusBadRequest},
		{siwa.ErrCodeUnsupportedRegistry, siwa.KindInput, http.StatusBadRequest},
		{siwa.ErrCodeNotRegistered, siwa.KindNotRegistered, http.StatusForbidden},
		{siwa.ErrCodeNonceExpired, siwa.KindCrypto, http.StatusUnauthorized},
		{siwa.ErrCodeAddressMismatch, siwa.KindCrypto, http.StatusUnauthorized},
		{siwa.ErrCodeInvalidReceipt, siwa.KindCrypto, http.StatusUnauthorized},
		{siwa.ErrCodePolicyUnmet, siwa.KindPolicy, http.StatusForbidden},
		{siwa.ErrCodeServerMisconfigured, siwa.KindConfiguration, http.StatusInternalServerError},
		{siwa.ErrCodeOracleUnavailable, siwa.KindUpstream, http.StatusServiceUnavailable},
		{siwa.ErrCodeReplayUnavailable, siwa.KindUpstream, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := siwa.NewError(tt.code, "x")
			assert.Equal(t, tt.kind, err.Kind())
			assert.Equal(t, tt.status, err.Kind().HTTPStatus())
		})
	}

	assert.Equal(t, siwa.KindConfiguration, siwa.KindOf(errors.New("plain")))
	assert.Equal(t, "CryptoVerificationError", siwa.KindCrypto.String())
}
