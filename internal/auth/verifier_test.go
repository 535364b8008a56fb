package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func signJWT(t *testing.T, secret []byte, header, payload string) string {
	t.Helper()
	h := base64.RawURLEncoding.EncodeToString([]byte(header))
	p := base64.RawURLEncoding.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(h + "." + p))
	return h + "." + p + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestDevModeToken(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	pr, err := v.Verify("t1:admin")
	if err != nil || pr.Tenant != "t1" || pr.Role != "admin" {
		t.Fatalf("dev token: %+v err=%v", pr, err)
	}
	if _, err := v.Verify("no-role"); err == nil {
		t.Fatal("malformed dev token accepted")
	}
}

func TestHMACModeToken(t *testing.T) {
	secret := []byte("k")
	v := &Verifier{Mode: "hmac", HMACSecret: secret, TenantClaim: "tenant", RoleClaim: "role"}

	tok := signJWT(t, secret, `{"alg":"HS256","typ":"JWT"}`, `{"tenant":"t9","role":"Admin"}`)
	pr, err := v.Verify(tok)
	if err != nil || pr.Tenant != "t9" || pr.Role != "admin" {
		t.Fatalf("hmac token: %+v err=%v", pr, err)
	}

	bad := signJWT(t, []byte("other"), `{"alg":"HS256"}`, `{"tenant":"t9","role":"admin"}`)
	if _, err := v.Verify(bad); err == nil {
		t.Fatal("token with wrong key accepted")
	}

	none := signJWT(t, secret, `{"alg":"none"}`, `{"tenant":"t9"}`)
	if _, err := v.Verify(none); err == nil {
		t.Fatal("alg=none accepted")
	}

	missing := signJWT(t, secret, `{"alg":"HS256"}`, `{"role":"admin"}`)
	if _, err := v.Verify(missing); err == nil {
		t.Fatal("token without tenant claim accepted")
	}
}
