package auth

import "testing"

func TestAccessTokenBeatsAPIKey(t *testing.T) {
	a := New(NewCredentials(CredentialSet{APIKey: "key1", AccessToken: "tok1"}))
	key, value, ok := a.HeaderFor(ResourceOrdinary)
	if !ok || key != "Authorization" || value != "Bearer tok1" {
		t.Errorf("HeaderFor = %q %q %v, want Authorization/Bearer tok1/true", key, value, ok)
	}
}

func TestAPIKeyUsedWhenNoAccessToken(t *testing.T) {
	a := New(NewCredentials(CredentialSet{APIKey: "key1"}))
	key, value, ok := a.HeaderFor(ResourceOrdinary)
	if !ok || key != "Authorization" || value != "Bearer key1" {
		t.Errorf("HeaderFor = %q %q %v, want Authorization/Bearer key1/true", key, value, ok)
	}
}

func TestNoCredentialsNoHeader(t *testing.T) {
	a := New(NewCredentials(CredentialSet{}))
	if _, _, ok := a.HeaderFor(ResourceOrdinary); ok {
		t.Error("expected no header with empty credential set")
	}
}

func TestAdminHeaderAdditive(t *testing.T) {
	a := New(NewCredentials(CredentialSet{APIKey: "key1", AdminKey: "admin1"}))

	key, value, ok := a.HeaderFor(ResourceAdmin)
	if !ok || key != "Authorization" || value != "Bearer key1" {
		t.Errorf("primary header wrong: %q %q %v", key, value, ok)
	}

	akey, avalue, aok := a.AdminHeader(ResourceAdmin)
	if !aok || akey != "X-Admin-Key" || avalue != "admin1" {
		t.Errorf("AdminHeader = %q %q %v, want X-Admin-Key/admin1/true", akey, avalue, aok)
	}

	if _, _, ok := a.AdminHeader(ResourceOrdinary); ok {
		t.Error("AdminHeader should not apply to ordinary resources")
	}
}

func TestQueryParamFallback(t *testing.T) {
	a := New(NewCredentials(CredentialSet{APIKey: "key1"}))
	key, value, ok := a.QueryParam()
	if !ok || key != "api_key" || value != "key1" {
		t.Errorf("QueryParam = %q %q %v, want api_key/key1/true", key, value, ok)
	}

	a2 := New(NewCredentials(CredentialSet{AccessToken: "tok1"}))
	key2, value2, ok2 := a2.QueryParam()
	if !ok2 || key2 != "token" || value2 != "tok1" {
		t.Errorf("QueryParam = %q %q %v, want token/tok1/true", key2, value2, ok2)
	}
}

func TestRotation(t *testing.T) {
	creds := NewCredentials(CredentialSet{AccessToken: "old"})
	a := New(creds)

	a.SetAccessToken("new")
	_, value, _ := a.HeaderFor(ResourceOrdinary)
	if value != "Bearer new" {
		t.Errorf("expected rotated token to be used, got %q", value)
	}

	a.SetRefreshToken("refresh1")
	if got := creds.Get().RefreshToken; got != "refresh1" {
		t.Errorf("RefreshToken = %q, want refresh1", got)
	}
}
