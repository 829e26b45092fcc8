package user

import (
	"testing"
	"time"
)

func TestMakeVerifyToken(t *testing.T) {
	timeout := 3 * 24 * time.Hour
	tg := NewTokenGenerator("secret", timeout)

	now := time.Now()
	usr := User{
		ID:        "4b1f5e3c-0d37-4c53-9b5e-1f6f5c1d2a10",
		TenantID:  "tenant",
		Name:      "T",
		Username:  "t",
		Email:     "t@test.test",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
	_ = usr.SetPassword("pwd")

	validToken, err := tg.MakeToken(usr)
	if err != nil {
		t.Fatalf("MakeToken() failed: %v", err)
	}

	// generate an expired token
	dayLate := timeout + (24 * time.Hour)
	tg.now = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken, _ := tg.MakeToken(usr)
	tg.now = time.Now // reset

	// password changed since the token was issued
	usedUsr := usr
	_ = usedUsr.SetPassword("new-pwd")

	// logged in since the token was issued
	loggedUsr := usr
	loggedUsr.LastLogin = now.Add(time.Minute)

	otherTG := NewTokenGenerator("other-secret", timeout)

	tests := []struct {
		name    string
		tg      *TokenGenerator
		usr     User
		token   string
		wantErr error
	}{
		{name: "no token", tg: tg, usr: usr, wantErr: ErrInvalidToken},
		{name: "invalid parts len", tg: tg, usr: usr, token: "lmaooolol", wantErr: ErrInvalidToken},
		{name: "invalid base32", tg: tg, usr: usr, token: "hahaha-sigsig-sig", wantErr: ErrInvalidToken},
		{name: "invalid timestamp", tg: tg, usr: usr, token: "NRXWY-sigsig-sig", wantErr: ErrInvalidToken}, // "lol"
		{name: "invalid signature", tg: tg, usr: usr, token: b32.EncodeToString([]byte("9000")) + "-sigsig-sig", wantErr: ErrInvalidToken},
		{name: "other secret key", tg: otherTG, usr: usr, token: validToken, wantErr: ErrInvalidToken},
		{name: "password changed", tg: tg, usr: usedUsr, token: validToken, wantErr: ErrInvalidToken},
		{name: "logged in since", tg: tg, usr: loggedUsr, token: validToken, wantErr: ErrInvalidToken},
		{name: "expired token", tg: tg, usr: usr, token: expiredToken, wantErr: ErrTokenExpired},
		{name: "valid token", tg: tg, usr: usr, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.tg.VerifyToken(tt.usr, tt.token); err != tt.wantErr {
				t.Errorf("VerifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeDecodeUID(t *testing.T) {
	usr := User{ID: "4b1f5e3c-0d37-4c53-9b5e-1f6f5c1d2a10"}
	id, err := DecodeUID(EncodeUID(usr))
	if err != nil {
		t.Fatalf("DecodeUID() failed: %v", err)
	}
	if id != usr.ID {
		t.Errorf("DecodeUID() = %q; want %q", id, usr.ID)
	}
	if _, err = DecodeUID("%%%"); err == nil {
		t.Error("DecodeUID() expected an error")
	}
}
