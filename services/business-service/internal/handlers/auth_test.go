package handlers

import "testing"

func TestPasswordHashing(t *testing.T) {
	password := "pass1234"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Barbería Don Juan": "barber-a-don-juan",
		"Studio  One":       "studio-one",
		"--Nails!--":        "nails",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugPattern(t *testing.T) {
	valid := []string{"studio-one", "nails", "a1-b2"}
	invalid := []string{"", "Studio", "two--dashes", "-lead", "trail-"}
	for _, s := range valid {
		if !slugPattern.MatchString(s) {
			t.Errorf("expected %q to be a valid slug", s)
		}
	}
	for _, s := range invalid {
		if slugPattern.MatchString(s) {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestParseClock(t *testing.T) {
	mins, err := parseClock("09:30")
	if err != nil {
		t.Fatalf("parseClock: %v", err)
	}
	if mins != 570 {
		t.Fatalf("got %d, want 570", mins)
	}
	if _, err := parseClock("25:00"); err == nil {
		t.Fatal("expected error for out-of-range hour")
	}
}
