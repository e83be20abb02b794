package origin

import "testing"

func TestValidator_DisabledAcceptsEverything(t *testing.T) {
	v := NewValidator(Config{Enabled: false})
	if !v.Validate("https://evil.example.com") {
		t.Fatalf("disabled validator should accept any origin")
	}
}

func TestValidator_NoHeaderAlwaysAccepted(t *testing.T) {
	v := NewValidator(Config{Enabled: true})
	if !v.Validate("") {
		t.Fatalf("empty origin (no header) should always be accepted")
	}
}

func TestValidator_DefaultAllowsLocalhostAndLoopback(t *testing.T) {
	v := NewValidator(Config{Enabled: true})
	cases := []string{
		"http://localhost",
		"http://localhost:3000",
		"https://localhost:8443",
		"http://127.0.0.1",
		"http://127.0.0.1:9000",
	}
	for _, origin := range cases {
		if !v.Validate(origin) {
			t.Errorf("expected %q to be accepted by default policy", origin)
		}
	}
}

func TestValidator_DefaultRejectsOtherHosts(t *testing.T) {
	v := NewValidator(Config{Enabled: true})
	cases := []string{
		"https://example.com",
		"http://10.0.0.5",
		"http://attacker.localhost.evil.com",
	}
	for _, origin := range cases {
		if v.Validate(origin) {
			t.Errorf("expected %q to be rejected by default policy", origin)
		}
	}
}

func TestValidator_AllowListOverridesDefault(t *testing.T) {
	v := NewValidator(Config{Enabled: true, AllowedOrigins: []string{"https://app.example.com"}})
	if !v.Validate("https://app.example.com") {
		t.Fatalf("expected allow-listed origin to be accepted")
	}
	if v.Validate("http://localhost:3000") {
		t.Fatalf("expected localhost to be rejected once an explicit allow-list is set")
	}
}

func TestValidator_MalformedOriginRejected(t *testing.T) {
	v := NewValidator(Config{Enabled: true})
	if v.Validate("not a url \x7f") {
		t.Fatalf("expected malformed origin to be rejected")
	}
}

func TestValidator_AllowListDomainEntryMatchesSubdomains(t *testing.T) {
	v := NewValidator(Config{Enabled: true, AllowedOrigins: []string{"example.co.uk"}})
	if !v.Validate("https://app.example.co.uk") {
		t.Fatalf("expected subdomain of allow-listed registrable domain to be accepted")
	}
	if !v.Validate("https://example.co.uk") {
		t.Fatalf("expected the bare registrable domain itself to be accepted")
	}
	if v.Validate("https://example.com") {
		t.Fatalf("expected a different registrable domain to be rejected")
	}
}

func TestTopDomain(t *testing.T) {
	dom, err := TopDomain("https://app.example.co.uk")
	if err != nil {
		t.Fatalf("TopDomain: %v", err)
	}
	if dom != "example.co.uk" {
		t.Fatalf("got %q, want example.co.uk", dom)
	}

	dom, err = TopDomain("http://localhost:3000")
	if err != nil {
		t.Fatalf("TopDomain: %v", err)
	}
	if dom != "" {
		t.Fatalf("expected empty top domain for localhost, got %q", dom)
	}
}
