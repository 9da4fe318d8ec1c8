package onboarding

import (
	"context"
	"strings"
	"testing"
)

func TestRegistry_Flow(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry("relatorio")

	reply, done := r.Check(ctx, "u1", "Gastei 50 no almoço")
	if done || reply != WelcomeText {
		t.Fatalf("first message = (%q, %v), want welcome", reply, done)
	}

	reply, done = r.Check(ctx, "u1", "   ")
	if done || reply != AskNameText {
		t.Fatalf("blank name = (%q, %v), want ask again", reply, done)
	}

	reply, done = r.Check(ctx, "u1", "Maria!")
	if done {
		t.Fatal("the name answer itself is still an onboarding turn")
	}
	if !strings.Contains(reply, "Prazer, Maria!") || !strings.Contains(reply, "relatorio") {
		t.Errorf("unexpected completion reply %q", reply)
	}

	if _, done := r.Check(ctx, "u1", "Gastei 10"); !done {
		t.Error("expected onboarding complete")
	}
	if p, ok := r.Profile("u1"); !ok || p.Name != "Maria" {
		t.Errorf("Profile = %+v, %v", p, ok)
	}

	if _, done := r.Check(ctx, "u2", "oi"); done {
		t.Error("other users start their own onboarding")
	}
}

func TestRegistry_Complete(t *testing.T) {
	r := NewRegistry("relatorio")
	r.Complete("u1", "Ana")
	if _, done := r.Check(context.Background(), "u1", "qualquer"); !done {
		t.Error("expected completed user to pass")
	}
}

func TestDisabled(t *testing.T) {
	if reply, done := (Disabled{}).Check(context.Background(), "u", "x"); !done || reply != "" {
		t.Errorf("Disabled.Check = (%q, %v)", reply, done)
	}
}

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"Maria":                       "Maria",
		"  joão silva. ":              "joão silva",
		"me chamo Pedro de Alcantara": "me chamo Pedro",
		"":                            "",
	}
	for in, want := range tests {
		if got := cleanName(in); got != want {
			t.Errorf("cleanName(%q) = %q, want %q", in, got, want)
		}
	}
}
