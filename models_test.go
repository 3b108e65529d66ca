package authadapters

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTime(t *testing.T) {
	in := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("CET", 3600))
	got := NormalizeTime(in)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123000000, got.Nanosecond())
	assert.True(t, got.Equal(in.Truncate(time.Millisecond)))
}

func TestValidate(t *testing.T) {
	exp := time.Now()
	tests := []struct {
		name  string
		err   error
		valid bool
	}{
		{"user ok", (&User{Email: "a@b.com"}).Validate(), true},
		{"user no email", (&User{ID: "u1"}).Validate(), false},
		{"account ok", (&Account{UserID: "u", Type: "oauth", Provider: "p", ProviderAccountID: "1"}).Validate(), true},
		{"account no type", (&Account{UserID: "u", Provider: "p", ProviderAccountID: "1"}).Validate(), false},
		{"session ok", (&Session{SessionToken: "s", UserID: "u", Expires: exp}).Validate(), true},
		{"session no user", (&Session{SessionToken: "s", Expires: exp}).Validate(), false},
		{"token ok", (&VerificationToken{Identifier: "i", Token: "t", Expires: exp}).Validate(), true},
		{"token no expiry", (&VerificationToken{Identifier: "i", Token: "t"}).Validate(), false},
		{"authenticator no key", (&Authenticator{CredentialID: "c", UserID: "u", ProviderAccountID: "p"}).Validate(), false},
		{"account ref empty", AccountRef{}.Validate(), false},
		{"token ref ok", VerificationTokenRef{"i", "t"}.Validate(), true},
		{"user patch blank email", (&UserPatch{ID: "u", Email: new(string)}).Validate(), false},
		{"session patch ok", (&SessionPatch{SessionToken: "s"}).Validate(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.valid {
				assert.NoError(t, tt.err)
				return
			}
			require.Error(t, tt.err)
			assert.True(t, errors.Is(tt.err, ErrInvalid), "got %v", tt.err)
		})
	}
}

func TestUserPatchApply(t *testing.T) {
	verified := time.Now()
	u := &User{ID: "u1", Name: "Old", Email: "a@b.com", Extra: map[string]any{"keep": 1, "drop": 2}}
	name := "New"
	p := UserPatch{ID: "u1", Name: &name, EmailVerified: &verified, Extra: map[string]any{"drop": nil, "add": "x"}}
	p.Apply(u)

	assert.Equal(t, "New", u.Name)
	assert.Equal(t, "a@b.com", u.Email)
	require.NotNil(t, u.EmailVerified)
	assert.True(t, NormalizeTime(verified).Equal(*u.EmailVerified))
	assert.Equal(t, map[string]any{"keep": 1, "add": "x"}, u.Extra)

	(&UserPatch{ID: "u1", ClearEmailVerified: true, EmailVerified: &verified}).Apply(u)
	assert.Nil(t, u.EmailVerified)
}

func TestSessionPatchApply(t *testing.T) {
	s := &Session{SessionToken: "s", UserID: "u1", Expires: time.Now()}
	later := time.Now().Add(time.Hour)
	(&SessionPatch{SessionToken: "s", Expires: &later}).Apply(s)
	assert.Equal(t, "u1", s.UserID)
	assert.True(t, NormalizeTime(later).Equal(s.Expires))
}
