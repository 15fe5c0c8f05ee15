package whatsapp

import "testing"

func TestLinkStripsNonDigits(t *testing.T) {
	link, err := Link("+54 9 11 5555-0000", "")
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if link != "https://wa.me/5491155550000" {
		t.Fatalf("unexpected link: %s", link)
	}
}

func TestLinkEncodesMessage(t *testing.T) {
	link, err := Link("5491155550000", "Hola! Tu turno fue confirmado")
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	want := "https://wa.me/5491155550000?text=Hola%21+Tu+turno+fue+confirmado"
	if link != want {
		t.Fatalf("unexpected link:\n got %s\nwant %s", link, want)
	}
}

func TestLinkEmptyPhone(t *testing.T) {
	if _, err := Link("n/a", "hi"); err != ErrEmptyPhone {
		t.Fatalf("expected ErrEmptyPhone, got %v", err)
	}
}
