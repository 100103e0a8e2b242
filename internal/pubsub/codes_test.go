package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIsTemporaryClassification pins the two-rule classification: codes
// below 100 are always temporary; codes at or above 100 are permanent
// unless the server frame carried the temporary override.
func TestIsTemporaryClassification(t *testing.T) {
	cases := []struct {
		name     string
		code     DisconnectCode
		override bool
		want     bool
	}{
		{"normal is temporary", CodeNormal, false, true},
		{"shutdown is temporary", CodeShutdown, false, true},
		{"invalid token below 100 is temporary", CodeInvalidToken, false, true},
		{"server error is permanent by table", CodeServerError, false, false},
		{"server error with override is temporary", CodeServerError, true, true},
		{"token expired is permanent by table", CodeTokenExpired, false, false},
		{"force disconnect stays permanent", CodeForceDisconnect, false, false},
		{"override never demotes a sub-100 code", CodeBadRequest, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTemporary(tc.code, tc.override))
		})
	}
}

func TestRequiresCredentialRefresh(t *testing.T) {
	assert.True(t, RequiresCredentialRefresh(CodeTokenExpired))

	for _, code := range []DisconnectCode{
		CodeNormal, CodeShutdown, CodeInvalidToken, CodeBadRequest,
		CodeServerError, CodeSubscriptionExpired, CodeRateLimited,
		CodeInsufficientState, CodeForceDisconnect, CodeConnectionLimit, CodeNoPing,
	} {
		assert.False(t, RequiresCredentialRefresh(code), "code %d must not refresh", code)
	}
}
