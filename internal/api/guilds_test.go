package api

import (
	"net/http"
	"testing"

	"github.com/zlingapp/server-sub000/internal/models"
)

// addMember walks a user through the invite flow into a guild.
func (ts *testServer) addMember(t *testing.T, ownerToken, guildID, memberToken string) {
	t.Helper()
	var invite models.Invite
	status := ts.request(t, http.MethodPost, "/guilds/"+guildID+"/invites", ownerToken, map[string]any{}, &invite)
	if status != http.StatusOK {
		t.Fatalf("create invite status = %d, want %d", status, http.StatusOK)
	}
	status = ts.request(t, http.MethodPost, "/invites/"+invite.Code+"/join", memberToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("join by invite status = %d, want %d", status, http.StatusOK)
	}
}

func TestInviteLifecycle(t *testing.T) {
	ts := newTestServer(t, 19455, 19459)
	alice := ts.registerUser(t, "alice")
	guildID, _ := ts.createGuildAndChannel(t, alice.AccessToken)

	var invite models.Invite
	status := ts.request(t, http.MethodPost, "/guilds/"+guildID+"/invites", alice.AccessToken,
		map[string]any{"maxUses": 1}, &invite)
	if status != http.StatusOK {
		t.Fatalf("create invite status = %d, want %d", status, http.StatusOK)
	}
	if invite.Code == "" || invite.MaxUses == nil || *invite.MaxUses != 1 {
		t.Fatalf("invite = %+v, want a code limited to one use", invite)
	}

	var invites []models.Invite
	status = ts.request(t, http.MethodGet, "/guilds/"+guildID+"/invites", alice.AccessToken, nil, &invites)
	if status != http.StatusOK || len(invites) != 1 {
		t.Fatalf("list invites status = %d, count = %d, want one invite", status, len(invites))
	}

	status = ts.request(t, http.MethodPost, "/invites/nosuchcode/join", alice.AccessToken, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown code join status = %d, want %d", status, http.StatusNotFound)
	}

	bob := ts.registerUser(t, "bob")
	var joined models.Guild
	status = ts.request(t, http.MethodPost, "/invites/"+invite.Code+"/join", bob.AccessToken, nil, &joined)
	if status != http.StatusOK {
		t.Fatalf("join status = %d, want %d", status, http.StatusOK)
	}
	if joined.ID != guildID {
		t.Fatalf("joined guild = %q, want %q", joined.ID, guildID)
	}

	var members []models.PublicUserInfo
	status = ts.request(t, http.MethodGet, "/guilds/"+guildID+"/members", bob.AccessToken, nil, &members)
	if status != http.StatusOK || len(members) != 2 {
		t.Fatalf("members status = %d, count = %d, want two members", status, len(members))
	}

	// Rejoining does not burn a use.
	status = ts.request(t, http.MethodPost, "/invites/"+invite.Code+"/join", bob.AccessToken, nil, nil)
	if status != http.StatusConflict {
		t.Fatalf("rejoin status = %d, want %d", status, http.StatusConflict)
	}

	// The single use went to bob, so the code is dead, not missing.
	carol := ts.registerUser(t, "carol")
	status = ts.request(t, http.MethodPost, "/invites/"+invite.Code+"/join", carol.AccessToken, nil, nil)
	if status != http.StatusGone {
		t.Fatalf("exhausted invite join status = %d, want %d", status, http.StatusGone)
	}

	status = ts.request(t, http.MethodDelete, "/guilds/"+guildID+"/invites/"+invite.Code, alice.AccessToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("delete invite status = %d, want %d", status, http.StatusOK)
	}
	status = ts.request(t, http.MethodGet, "/guilds/"+guildID+"/invites", alice.AccessToken, nil, &invites)
	if status != http.StatusOK || len(invites) != 0 {
		t.Fatalf("list after delete status = %d, count = %d, want none", status, len(invites))
	}
}

func TestGuildPermissions(t *testing.T) {
	ts := newTestServer(t, 19460, 19464)
	alice := ts.registerUser(t, "alice")
	guildID, channelID := ts.createGuildAndChannel(t, alice.AccessToken)
	bob := ts.registerUser(t, "bob")
	carol := ts.registerUser(t, "carol")
	ts.addMember(t, alice.AccessToken, guildID, bob.AccessToken)

	// Outsiders see nothing.
	if status := ts.request(t, http.MethodGet, "/guilds/"+guildID+"/members", carol.AccessToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("outsider members status = %d, want %d", status, http.StatusForbidden)
	}
	if status := ts.request(t, http.MethodGet, "/guilds/"+guildID+"/channels", carol.AccessToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("outsider channels status = %d, want %d", status, http.StatusForbidden)
	}

	// Members read, the owner writes.
	var channels []models.Channel
	if status := ts.request(t, http.MethodGet, "/guilds/"+guildID+"/channels", bob.AccessToken, nil, &channels); status != http.StatusOK || len(channels) != 1 {
		t.Fatalf("member channels status = %d, count = %d, want one channel", status, len(channels))
	}
	if status := ts.request(t, http.MethodPost, "/guilds/"+guildID+"/channels", bob.AccessToken, map[string]string{"name": "sneaky"}, nil); status != http.StatusForbidden {
		t.Fatalf("member channel create status = %d, want %d", status, http.StatusForbidden)
	}
	if status := ts.request(t, http.MethodDelete, "/channels/"+channelID, bob.AccessToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("member channel delete status = %d, want %d", status, http.StatusForbidden)
	}
	if status := ts.request(t, http.MethodDelete, "/guilds/"+guildID, bob.AccessToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("member guild delete status = %d, want %d", status, http.StatusForbidden)
	}
	if status := ts.request(t, http.MethodGet, "/guilds/"+guildID+"/invites", bob.AccessToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("member invite list status = %d, want %d", status, http.StatusForbidden)
	}

	// Any member may mint invites.
	var invite models.Invite
	if status := ts.request(t, http.MethodPost, "/guilds/"+guildID+"/invites", bob.AccessToken, map[string]any{}, &invite); status != http.StatusOK {
		t.Fatalf("member invite create status = %d, want %d", status, http.StatusOK)
	}
	if status := ts.request(t, http.MethodDelete, "/guilds/"+guildID+"/invites/"+invite.Code, bob.AccessToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("member invite delete status = %d, want %d", status, http.StatusForbidden)
	}

	// The owner is pinned to the guild; everyone else may walk away.
	if status := ts.request(t, http.MethodPost, "/guilds/"+guildID+"/leave", alice.AccessToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("owner leave status = %d, want %d", status, http.StatusForbidden)
	}
	if status := ts.request(t, http.MethodPost, "/guilds/"+guildID+"/leave", bob.AccessToken, nil, nil); status != http.StatusOK {
		t.Fatalf("member leave status = %d, want %d", status, http.StatusOK)
	}
	if status := ts.request(t, http.MethodGet, "/guilds/"+guildID+"/members", bob.AccessToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("ex-member members status = %d, want %d", status, http.StatusForbidden)
	}

	var guilds []models.Guild
	if status := ts.request(t, http.MethodGet, "/guilds", bob.AccessToken, nil, &guilds); status != http.StatusOK || len(guilds) != 0 {
		t.Fatalf("ex-member guild list status = %d, count = %d, want none", status, len(guilds))
	}

	if status := ts.request(t, http.MethodDelete, "/guilds/"+guildID, alice.AccessToken, nil, nil); status != http.StatusOK {
		t.Fatalf("owner guild delete status = %d, want %d", status, http.StatusOK)
	}
	if status := ts.request(t, http.MethodGet, "/guilds", alice.AccessToken, nil, &guilds); status != http.StatusOK || len(guilds) != 0 {
		t.Fatalf("owner guild list status = %d, count = %d, want none", status, len(guilds))
	}

	// The guild's channels died with it.
	if status := ts.request(t, http.MethodGet, "/channels/"+channelID+"/messages", alice.AccessToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("dead channel history status = %d, want %d", status, http.StatusForbidden)
	}
}
