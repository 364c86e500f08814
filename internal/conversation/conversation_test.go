package conversation

import "testing"

func TestRenderHistoryKeepsOrderAndLabels(t *testing.T) {
	turns := []Turn{
		AssistantTurn("Hello! I am a SQL Assistant. Ask me anything about your database."),
		UserTurn("Name 10 artists"),
		AssistantTurn("Here are ten artists."),
		UserTurn("now show only the top 3"),
	}
	got := RenderHistory(turns)
	want := "AI: Hello! I am a SQL Assistant. Ask me anything about your database.\n" +
		"Human: Name 10 artists\n" +
		"AI: Here are ten artists.\n" +
		"Human: now show only the top 3"
	if got != want {
		t.Fatalf("RenderHistory() = %q, want %q", got, want)
	}
}

func TestRenderHistoryEmpty(t *testing.T) {
	if got := RenderHistory(nil); got != "" {
		t.Fatalf("RenderHistory(nil) = %q", got)
	}
}

func TestParseRole(t *testing.T) {
	for raw, want := range map[string]Role{
		"user":      RoleUser,
		" Human ":   RoleUser,
		"assistant": RoleAssistant,
		"AI":        RoleAssistant,
	} {
		got, err := ParseRole(raw)
		if err != nil {
			t.Fatalf("ParseRole(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseRole(%q) = %v, want %v", raw, got, want)
		}
	}
	if _, err := ParseRole("system"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestRoleString(t *testing.T) {
	if RoleUser.String() != "user" || RoleAssistant.String() != "assistant" {
		t.Fatalf("String() = %q/%q", RoleUser.String(), RoleAssistant.String())
	}
	if Role(9).Label() != "Unknown" {
		t.Fatalf("Label() = %q", Role(9).Label())
	}
}
