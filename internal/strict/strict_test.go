package strict

import (
	"sort"
	"testing"

	"github.com/alfredjeanlab/contestfeed/internal/model"
)

// fieldNames returns the canonical field names of typ, sorted.
func fieldNames(t *Table, typ model.EndpointType) []string {
	out := make([]string, 0, len(t.fields[typ]))
	for f := range t.fields[typ] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func TestLoad_CoversEveryEndpoint(t *testing.T) {
	table, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, typ := range model.EndpointTypes {
		if !table.has(typ) {
			t.Errorf("schema does not list %s", typ)
		}
	}
	for _, internal := range []model.EndpointType{"team-categories", "team-affiliations", "contest-problems"} {
		if table.has(internal) {
			t.Errorf("internal entity exposed as %s", internal)
		}
	}
}

func TestLoad_Renames(t *testing.T) {
	table, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	has := func(typ model.EndpointType, field string) bool {
		for _, f := range fieldNames(table, typ) {
			if f == field {
				return true
			}
		}
		return false
	}
	if !has(model.EndpointProblems, "label") || !has(model.EndpointProblems, "ordinal") {
		t.Errorf("problems should use contest-problem fields, got %v", fieldNames(table, model.EndpointProblems))
	}
	if !has(model.EndpointGroups, "hidden") {
		t.Errorf("groups should use team-category fields, got %v", fieldNames(table, model.EndpointGroups))
	}
	if !has(model.EndpointOrganizations, "formal_name") || !has(model.EndpointOrganizations, "country") {
		t.Errorf("organizations should use team-affiliation fields, got %v", fieldNames(table, model.EndpointOrganizations))
	}
}

func TestApply(t *testing.T) {
	table, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, tc := range []struct {
		name string
		typ  model.EndpointType
		in   string
		want string
	}{
		{
			name: "DropsExtensions",
			typ:  model.EndpointSubmissions,
			in:   `{"id":"s1","language_id":"cpp","externalid":"x9","problem_id":"A","import_error":null,"team_id":"t1"}`,
			want: `{"id":"s1","language_id":"cpp","problem_id":"A","team_id":"t1"}`,
		},
		{
			name: "ProblemOrderKept",
			typ:  model.EndpointProblems,
			in:   `{"ordinal":2,"id":"C","short_name":"c","label":"C","probid":17}`,
			want: `{"ordinal":2,"id":"C","label":"C"}`,
		},
		{
			name: "State",
			typ:  model.EndpointState,
			in:   `{"started":"2026-03-01T10:00:00.000Z","frozen":null,"internal":true}`,
			want: `{"started":"2026-03-01T10:00:00.000Z","frozen":null}`,
		},
		{
			name: "UnknownTypeEmpty",
			typ:  model.EndpointType("scoreboard"),
			in:   `{"id":"x"}`,
			want: `{}`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := table.Apply(tc.typ, model.Payload(tc.in))
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"Malformed", "entities: [\n"},
		{"DuplicateEndpoint", "entities:\n  team:\n    fields: [id]\n  squad:\n    endpoint: teams\n    fields: [id]\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPlural(t *testing.T) {
	for in, want := range map[string]string{
		"contest":        "contests",
		"judgement_type": "judgement-types",
		"team_category":  "team-categories",
		"person":         "persons",
		"address":        "addresses",
		"key":            "keys",
	} {
		if got := plural(in); got != want {
			t.Errorf("plural(%q) = %q, want %q", in, got, want)
		}
	}
}
