package authadapters

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	var k KeyEncoder
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"user", k.User("u1"), "user:u1"},
		{"email", k.UserByEmail("a@b.com"), "user:email:a_at_b.com"},
		{"account", k.Account(AccountRef{"github", "42"}), "user:account:github:42"},
		{"accounts by user", k.AccountsByUser("u1"), "user:account:by-user-id:u1"},
		{"session", k.Session("tok1"), "user:session:tok1"},
		{"sessions by user", k.SessionsByUser("u1"), "user:session:by-user-id:u1"},
		{"token", k.VerificationToken(VerificationTokenRef{"a@b.com", "t"}), "user:token:a_at_b.com:t"},
		{"authenticator", k.Authenticator("cred"), "authenticator:cred"},
		{"authenticators by user", k.AuthenticatorsByUser("u1"), "authenticator:by-user-id:u1"},
		{"namespaced", k.Namespaced("scs", "x y"), "scs:x_y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestKeyPrefixAndSeparator(t *testing.T) {
	k := KeyEncoder{Prefix: "app", Separator: "."}
	assert.Equal(t, "app.user.email.a_at_b_dot_com", k.UserByEmail("a@b.com"))
	assert.Equal(t, "app.user.account.github.42", k.Account(AccountRef{"github", "42"}))

	slash := KeyEncoder{Separator: "/"}
	assert.Equal(t, "user/session/a_slash_b", slash.Session("a/b"))
}

func TestEscapePart(t *testing.T) {
	tests := []struct {
		in, sep, want string
	}{
		{"a@b.com", ":", "a_at_b.com"},
		{"x:y", ":", "x_colon_y"},
		{"John Doe", ":", "John_Doe"},
		{"a.b", ".", "a_dot_b"},
		{"a|b", "|", "a_sep_b"},
		{"plain", "", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapePart(tt.in, tt.sep), "EscapePart(%q, %q)", tt.in, tt.sep)
	}
}

func TestCompositeKeysStayDistinct(t *testing.T) {
	var k KeyEncoder
	a := k.Account(AccountRef{Provider: "a:b", ProviderAccountID: "c"})
	b := k.Account(AccountRef{Provider: "a", ProviderAccountID: "b:c"})
	assert.NotEqual(t, a, b)

	reserved := k.Account(AccountRef{Provider: "by-user-id", ProviderAccountID: "u1"})
	assert.NotEqual(t, k.AccountsByUser("u1"), reserved)
	assert.Equal(t, "user:account:_by-user-id:u1", reserved)

	v1 := k.VerificationToken(VerificationTokenRef{"x@y.com", "t1"})
	v2 := k.VerificationToken(VerificationTokenRef{"x@y.com", "t2"})
	assert.NotEqual(t, v1, v2)
}

func TestKeysDeterministicAndDistinct(t *testing.T) {
	var k KeyEncoder
	seen := map[string]string{}
	for i := 0; i < 200; i++ {
		id := uuid.NewString()
		key := k.Session(id)
		assert.Equal(t, key, k.Session(id))
		if prev, dup := seen[key]; dup {
			t.Fatalf("tokens %s and %s encode to the same key %s", prev, id, key)
		}
		seen[key] = id
	}

	emails := []string{"a@b.com", "a@b.co", "ab@b.com", "a.b@c.com", "a@bc.om"}
	keys := map[string]bool{}
	for _, e := range emails {
		keys[k.UserByEmail(e)] = true
	}
	assert.Len(t, keys, len(emails))
}

func TestCustomEscape(t *testing.T) {
	k := KeyEncoder{Escape: func(s string) string { return "<" + s + ">" }}
	assert.Equal(t, "user:<u1>", k.User("u1"))
	assert.Equal(t, "<a>:<b>", k.JoinParts("a", "b"))
}
