package routing

import (
	"testing"
)

func TestRouteReviewRequest(t *testing.T) {
	r := New(nil, nil, Config{})

	decision := r.Route("review authentication in src/auth.py")
	if decision == nil {
		t.Fatal("expected a route")
	}
	if decision.Agent != "reviewer" {
		t.Fatalf("agent = %q, want reviewer", decision.Agent)
	}
	if decision.Confidence < 0.7 {
		t.Fatalf("confidence = %v, want >= 0.7", decision.Confidence)
	}
}

func TestRouteShortInput(t *testing.T) {
	r := New(nil, nil, Config{})
	if d := r.Route("fix"); d != nil {
		t.Fatalf("short input should not route, got %+v", d)
	}
}

func TestRouteNegativePatterns(t *testing.T) {
	r := New(nil, nil, Config{})
	for _, input := range []string{
		"hello there, how are you today",
		"thanks, that worked perfectly",
		"bom dia, tudo bem com você",
	} {
		if d := r.Route(input); d != nil {
			t.Fatalf("small talk %q routed to %+v", input, d)
		}
	}
}

func TestRoutePortugueseVariant(t *testing.T) {
	r := New(nil, nil, Config{})
	d := r.Route("crie um arquivo chamado notas.md")
	if d == nil || d.Agent != "executor" {
		t.Fatalf("want executor, got %+v", d)
	}
}

func TestRouteDeterminism(t *testing.T) {
	r := New(nil, nil, Config{})
	input := "run the test suite and fix failures"
	first := r.Route(input)
	for i := 0; i < 50; i++ {
		again := r.Route(input)
		if (first == nil) != (again == nil) {
			t.Fatal("route flip-flopped between nil and non-nil")
		}
		if first != nil && (first.Agent != again.Agent || first.Confidence != again.Confidence) {
			t.Fatalf("route not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestAcceptedRouteAppearsInSuggestions(t *testing.T) {
	r := New(nil, nil, Config{})
	inputs := []string{
		"review authentication in src/auth.py",
		"create a file notes.md containing hello",
		"design a schema for the billing system",
		"search the web for the latest Go release",
	}
	for _, input := range inputs {
		d := r.Route(input)
		if d == nil {
			continue
		}
		found := false
		for _, s := range r.Suggestions(input) {
			if s.Agent == d.Agent {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("accepted agent %q missing from suggestions for %q", d.Agent, input)
		}
	}
}

func TestSuggestionsCappedAtThree(t *testing.T) {
	r := New(nil, nil, Config{AmbiguityThreshold: 0.01})
	if got := len(r.Suggestions("review and fix and design and research everything in the code file system")); got > 3 {
		t.Fatalf("suggestions = %d, want <= 3", got)
	}
}
