package storage

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactor_Params(t *testing.T) {
	r := NewRedactor()

	got := r.RedactParams(map[string]string{
		"contactId": "42",
		"Token":     "abc",
		"password":  "hunter2",
	})

	assert.Equal(t, "42", got["contactId"])
	assert.Equal(t, redactValue, got["Token"])
	assert.Equal(t, redactValue, got["password"])
	assert.Nil(t, r.RedactParams(nil))
}

func TestRedactor_URL(t *testing.T) {
	r := NewRedactor()

	got := r.RedactURL("/contacts/42?token=abc&page=2")
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/contacts/42", u.Path)
	assert.Equal(t, redactValue, u.Query().Get("token"))
	assert.Equal(t, "2", u.Query().Get("page"))

	assert.Equal(t, "/contacts/42?page=2", r.RedactURL("/contacts/42?page=2"))
	assert.Equal(t, "/contacts", r.RedactURL("/contacts"))
}

func TestRedactor_ReloadsFromRepo(t *testing.T) {
	repo := newRuleRepo(t)
	require.NoError(t, repo.Seed())

	r, err := NewRedactorWithRepo(repo)
	require.NoError(t, err)

	params := map[string]string{"otp": "123456", "authorization": "Bearer x"}
	got := r.RedactParams(params)
	assert.Equal(t, "123456", got["otp"])
	assert.Equal(t, redactValue, got["authorization"])

	_, err = repo.Create("OTP")
	require.NoError(t, err)

	rules, err := repo.GetAll()
	require.NoError(t, err)
	for _, rule := range rules {
		if rule.Pattern == "authorization" {
			require.NoError(t, repo.Delete(rule.ID))
		}
	}
	require.NoError(t, r.Reload())

	got = r.RedactParams(params)
	assert.Equal(t, redactValue, got["otp"])
	assert.Equal(t, "Bearer x", got["authorization"])
}
