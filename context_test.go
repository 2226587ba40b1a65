package jwtauth

import (
	"context"
	"testing"
)

func TestCallerClaimsContext(t *testing.T) {
	if _, ok := CallerClaimsFromContext(context.Background()); ok {
		t.Fatal("expected no caller claims")
	}

	issuer, err := NewIssuer(Config{AuthKey: testAuthKey})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	token, err := issuer.CreateAccessToken(context.Background(), testSession(), nil, nil)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	caller, err := issuer.AuthenticateCaller(context.Background(), token)
	if err != nil {
		t.Fatalf("AuthenticateCaller: %v", err)
	}
	if caller.Token != token || caller.DevBypass {
		t.Fatalf("unexpected caller: %+v", caller)
	}
	if caller.Claims.UserName != "mythz" || caller.Session.UserName != "mythz" {
		t.Fatalf("unexpected caller user: %+v %+v", caller.Claims, caller.Session)
	}

	ctx := BindCallerClaims(context.Background(), caller)
	got, ok := CallerClaimsFromContext(ctx)
	if !ok || got.Claims.Subject != "1" {
		t.Fatalf("caller claims not bound: %+v", got)
	}
}

func TestAuthenticateCaller_Rejects(t *testing.T) {
	reader, err := NewReader(Config{AuthKey: testAuthKey})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := reader.AuthenticateCaller(context.Background(), "a.b.c"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDevBypassClaims(t *testing.T) {
	dev := DefaultDevBypassClaims("")
	dev.Roles = []string{"Admin"}
	caller := dev.ToCallerClaims()

	if !caller.DevBypass || caller.Token != "" {
		t.Fatalf("unexpected caller: %+v", caller)
	}
	if caller.Claims.Subject != "dev-bypass" || caller.Claims.Issuer != "ssjwt" {
		t.Fatalf("unexpected claims: %+v", caller.Claims)
	}
	if len(caller.Claims.Audience) != 1 || caller.Claims.Audience[0] != "https://dev.local" {
		t.Fatalf("unexpected audience: %v", caller.Claims.Audience)
	}
	if caller.Session.ID != "dev-dev-bypass" || !caller.Session.HasRole("Admin") || !caller.Session.IsAuthenticated {
		t.Fatalf("unexpected session: %+v", caller.Session)
	}
}
