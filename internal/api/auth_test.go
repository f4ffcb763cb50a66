package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/zlingapp/server-sub000/internal/auth"
	"github.com/zlingapp/server-sub000/internal/models"
)

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t, 19400, 19404)

	session := ts.registerUser(t, "alice")
	if session.User == nil || session.User.Username != "alice" {
		t.Fatalf("register returned user %+v", session.User)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("register returned empty tokens")
	}

	status := ts.request(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice",
		"password": testPassword,
	}, nil)
	if status != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want %d", status, http.StatusConflict)
	}

	status = ts.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice",
		"password": "definitely not it",
	}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("bad password login status = %d, want %d", status, http.StatusUnauthorized)
	}

	var login sessionResponse
	status = ts.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice",
		"password": testPassword,
	}, &login)
	if status != http.StatusOK {
		t.Fatalf("login status = %d, want %d", status, http.StatusOK)
	}

	var me models.User
	status = ts.request(t, http.MethodGet, "/users/me", login.AccessToken, nil, &me)
	if status != http.StatusOK {
		t.Fatalf("GET /users/me status = %d, want %d", status, http.StatusOK)
	}
	if me.Username != "alice" {
		t.Fatalf("me.Username = %q, want %q", me.Username, "alice")
	}

	if status := ts.request(t, http.MethodGet, "/users/me", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /users/me status = %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestReissueRotationIsSingleUse(t *testing.T) {
	ts := newTestServer(t, 19405, 19409)
	session := ts.registerUser(t, "bob")

	var second auth.TokenPair
	status := ts.request(t, http.MethodPost, "/auth/reissue", "", map[string]string{
		"refreshToken": session.RefreshToken,
	}, &second)
	if status != http.StatusOK {
		t.Fatalf("first reissue status = %d, want %d", status, http.StatusOK)
	}
	if second.RefreshToken == "" || second.RefreshToken == session.RefreshToken {
		t.Fatal("reissue did not rotate the refresh token")
	}

	// The spent token must be dead, and spending it is a policy
	// violation rather than a credential failure.
	var errResp ErrorResponse
	status = ts.request(t, http.MethodPost, "/auth/reissue", "", map[string]string{
		"refreshToken": session.RefreshToken,
	}, &errResp)
	if status != http.StatusForbidden {
		t.Fatalf("spent reissue status = %d, want %d", status, http.StatusForbidden)
	}
	if errResp.Code != http.StatusForbidden {
		t.Fatalf("error body code = %d, want %d", errResp.Code, http.StatusForbidden)
	}

	// The replacement still works.
	status = ts.request(t, http.MethodPost, "/auth/reissue", "", map[string]string{
		"refreshToken": second.RefreshToken,
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("replacement reissue status = %d, want %d", status, http.StatusOK)
	}

	// Garbage is a credential failure, not a policy one.
	status = ts.request(t, http.MethodPost, "/auth/reissue", "", map[string]string{
		"refreshToken": "not-a-token",
	}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("garbage reissue status = %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestLogoutRevokesAllRefreshTokens(t *testing.T) {
	ts := newTestServer(t, 19410, 19414)
	session := ts.registerUser(t, "carol")

	// A second device logs in and holds its own refresh token.
	var other sessionResponse
	status := ts.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "carol",
		"password": testPassword,
	}, &other)
	if status != http.StatusOK {
		t.Fatalf("second login status = %d, want %d", status, http.StatusOK)
	}

	status = ts.request(t, http.MethodPost, "/auth/logout", session.AccessToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("logout status = %d, want %d", status, http.StatusOK)
	}

	for _, token := range []string{session.RefreshToken, other.RefreshToken} {
		status = ts.request(t, http.MethodPost, "/auth/reissue", "", map[string]string{
			"refreshToken": token,
		}, nil)
		if status != http.StatusForbidden {
			t.Fatalf("reissue after logout status = %d, want %d", status, http.StatusForbidden)
		}
	}
}

func TestBotTokensDoNotRotate(t *testing.T) {
	ts := newTestServer(t, 19415, 19419)
	owner := ts.registerUser(t, "dave")

	var created createBotResponse
	status := ts.request(t, http.MethodPost, "/bots", owner.AccessToken, map[string]string{
		"name": "helperbot",
	}, &created)
	if status != http.StatusOK {
		t.Fatalf("create bot status = %d, want %d", status, http.StatusOK)
	}
	if created.Bot == nil || !strings.HasPrefix(created.Bot.ID, models.BotIDPrefix) {
		t.Fatalf("create bot returned %+v", created.Bot)
	}
	if created.RefreshToken == "" {
		t.Fatal("create bot returned no refresh token")
	}

	// Reissue twice: the bot's refresh token survives both calls.
	for i := 0; i < 2; i++ {
		var pair auth.TokenPair
		status = ts.request(t, http.MethodPost, "/auth/reissue", "", map[string]string{
			"refreshToken": created.RefreshToken,
		}, &pair)
		if status != http.StatusOK {
			t.Fatalf("bot reissue %d status = %d, want %d", i, status, http.StatusOK)
		}
		if pair.RefreshToken != created.RefreshToken {
			t.Fatal("bot refresh token rotated")
		}
		if pair.AccessToken == "" {
			t.Fatal("bot reissue returned no access token")
		}
	}

	// Deleting the bot revokes its tokens through the cascade.
	status = ts.request(t, http.MethodDelete, "/bots/"+created.Bot.ID, owner.AccessToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("delete bot status = %d, want %d", status, http.StatusOK)
	}
	status = ts.request(t, http.MethodPost, "/auth/reissue", "", map[string]string{
		"refreshToken": created.RefreshToken,
	}, nil)
	if status != http.StatusForbidden {
		t.Fatalf("reissue after bot deletion status = %d, want %d", status, http.StatusForbidden)
	}
}
