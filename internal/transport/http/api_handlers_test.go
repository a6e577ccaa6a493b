package http

import (
	"bytes"
	"encoding/json"
	stdhttp "net/http"
	"testing"

	"github.com/engly817chat/engly-client/internal/proto"
)

func postJSON(t *testing.T, url string, body any) (int, proto.AuthResponse) {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := stdhttp.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out proto.AuthResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestRegisterAndLogin(t *testing.T) {
	env := startTestServer(t, nil)

	code, reg := postJSON(t, env.ts.URL+"/api/register", proto.Credentials{Username: "alice", Password: "password123"})
	if code != stdhttp.StatusCreated || reg.Token == "" || reg.Username != "alice" || reg.UserID == "" {
		t.Fatalf("register = %d %+v", code, reg)
	}
	if reg.ExpiresAt.IsZero() {
		t.Fatal("register response has no expiry")
	}

	code, _ = postJSON(t, env.ts.URL+"/api/register", proto.Credentials{Username: "alice", Password: "password123"})
	if code != stdhttp.StatusConflict {
		t.Fatalf("duplicate register = %d", code)
	}

	code, _ = postJSON(t, env.ts.URL+"/api/register", proto.Credentials{Username: "al", Password: "password123"})
	if code != stdhttp.StatusBadRequest {
		t.Fatalf("short username = %d", code)
	}

	code, login := postJSON(t, env.ts.URL+"/api/login", proto.Credentials{Username: "alice", Password: "password123"})
	if code != stdhttp.StatusOK || login.Token == "" {
		t.Fatalf("login = %d %+v", code, login)
	}
	claims, err := env.auth.ValidateToken(login.Token)
	if err != nil || claims.Username != "alice" || claims.UserID != reg.UserID {
		t.Fatalf("login token claims = %+v, %v", claims, err)
	}

	code, _ = postJSON(t, env.ts.URL+"/api/login", proto.Credentials{Username: "alice", Password: "nope-nope"})
	if code != stdhttp.StatusUnauthorized {
		t.Fatalf("bad password = %d", code)
	}

	code, _ = postJSON(t, env.ts.URL+"/api/login", map[string]string{"username": "alice"})
	if code != stdhttp.StatusBadRequest {
		t.Fatalf("missing password = %d", code)
	}
}
