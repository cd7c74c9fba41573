package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fusevault/core/internal/domain"
)

func TestRequireAuth_NilContextFails(t *testing.T) {
	err := requireAuth(nil)
	assert.Error(t, err)
}

func TestRequireAuth_AnyContextPasses(t *testing.T) {
	err := requireAuth(&domain.AuthContext{WalletAddress: "0xowner"})
	assert.NoError(t, err)
}

func TestRequireWalletSession_RejectsAPIKeyCaller(t *testing.T) {
	err := requireWalletSession(&domain.AuthContext{Method: domain.AuthMethodAPIKey})
	assert.Error(t, err)
}

func TestRequireWalletSession_RejectsNilContext(t *testing.T) {
	assert.Error(t, requireWalletSession(nil))
}

func TestRequireWalletSession_AcceptsWalletSession(t *testing.T) {
	err := requireWalletSession(&domain.AuthContext{Method: domain.AuthMethodWalletSession})
	assert.NoError(t, err)
}
