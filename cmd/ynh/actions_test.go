package main

import (
	"testing"

	"github.com/YunoHost/cli/internal/actionsmap"
)

func TestFlagSpelling(t *testing.T) {
	tests := []struct {
		flag, full      string
		name, shorthand string
	}{
		{"-p", "--password", "password", "p"},
		{"--force", "", "force", ""},
		{"-4", "--ipv4", "ipv4", "4"},
		{"--add-mailalias", "", "add-mailalias", ""},
	}
	for _, tt := range tests {
		arg := &actionsmap.Argument{Flag: tt.flag, Full: tt.full}
		name, shorthand := flagSpelling(arg)
		if name != tt.name || shorthand != tt.shorthand {
			t.Errorf("flagSpelling(%q, %q) = (%q, %q), want (%q, %q)",
				tt.flag, tt.full, name, shorthand, tt.name, tt.shorthand)
		}
	}
}

func TestActionUsage(t *testing.T) {
	action := &actionsmap.Action{
		Name: "create",
		Arguments: []*actionsmap.Argument{
			{Flag: "username"},
			{Flag: "domains", Nargs: "*"},
			{Flag: "-p", Full: "--password"},
		},
	}
	got := actionUsage(action, positionalArguments(action))
	want := "create <username> [domains...]"
	if got != want {
		t.Fatalf("usage = %q, want %q", got, want)
	}
}

func TestPositionalValidator(t *testing.T) {
	positionals := []*actionsmap.Argument{
		{Flag: "username"},
		{Flag: "aliases", Nargs: "*"},
	}
	validate := positionalValidator(positionals)

	if err := validate(nil, nil); err == nil {
		t.Fatal("missing required positional accepted")
	}
	if err := validate(nil, []string{"alice"}); err != nil {
		t.Fatalf("single required arg rejected: %v", err)
	}
	if err := validate(nil, []string{"alice", "a1", "a2", "a3"}); err != nil {
		t.Fatalf("variadic tail rejected: %v", err)
	}

	fixed := positionalValidator([]*actionsmap.Argument{{Flag: "app"}})
	if err := fixed(nil, []string{"wordpress", "extra"}); err == nil {
		t.Fatal("excess positional accepted")
	}
}

func TestCollectSupplied(t *testing.T) {
	action := &actionsmap.Action{
		Name: "update",
		Arguments: []*actionsmap.Argument{
			{Flag: "username"},
			{Flag: "-F", Full: "--fullname"},
			{Flag: "--purge", Action: "store_true"},
			{Flag: "--add-mailalias", Action: "append"},
		},
	}
	cmd := newActionCommand([]string{"user"}, action)
	if err := cmd.Flags().Parse([]string{
		"--fullname", "Alice Cooper",
		"--purge",
		"--add-mailalias", "a@example.org",
		"--add-mailalias", "b@example.org",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	supplied, err := collectSupplied(cmd, action, []string{"alice"})
	if err != nil {
		t.Fatalf("collectSupplied: %v", err)
	}

	byFlag := map[string][]string{}
	for _, sup := range supplied {
		byFlag[sup.Flag] = sup.Values
	}

	if got := byFlag["username"]; len(got) != 1 || got[0] != "alice" {
		t.Fatalf("username = %v", got)
	}
	if got := byFlag["-F"]; len(got) != 1 || got[0] != "Alice Cooper" {
		t.Fatalf("fullname = %v", got)
	}
	if got := byFlag["--purge"]; len(got) != 1 || got[0] != "true" {
		t.Fatalf("purge = %v", got)
	}
	if got := byFlag["--add-mailalias"]; len(got) != 2 {
		t.Fatalf("add-mailalias = %v", got)
	}
}

func TestCollectSuppliedSkipsUntouchedFlags(t *testing.T) {
	action := &actionsmap.Action{
		Name: "list",
		Arguments: []*actionsmap.Argument{
			{Flag: "--full", Action: "store_true"},
		},
	}
	cmd := newActionCommand([]string{"app"}, action)
	if err := cmd.Flags().Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	supplied, err := collectSupplied(cmd, action, nil)
	if err != nil {
		t.Fatalf("collectSupplied: %v", err)
	}
	if len(supplied) != 0 {
		t.Fatalf("untouched flags were collected: %+v", supplied)
	}
}

func TestCollectSuppliedValidatesChoices(t *testing.T) {
	action := &actionsmap.Action{
		Name: "update",
		Arguments: []*actionsmap.Argument{
			{Flag: "target", Choices: []string{"apps", "system"}, Nargs: "?"},
		},
	}
	cmd := newActionCommand([]string{"tools"}, action)

	if _, err := collectSupplied(cmd, action, []string{"bogus"}); err == nil {
		t.Fatal("invalid choice accepted")
	}
	if _, err := collectSupplied(cmd, action, []string{"apps"}); err != nil {
		t.Fatalf("valid choice rejected: %v", err)
	}
}

func TestVariadicVariantsConsumeRest(t *testing.T) {
	action := &actionsmap.Action{
		Name: "restart",
		Arguments: []*actionsmap.Argument{
			{Flag: "names", Nargs: "+"},
		},
	}
	cmd := newActionCommand([]string{"service"}, action)

	supplied, err := collectSupplied(cmd, action, []string{"nginx", "php8.2-fpm"})
	if err != nil {
		t.Fatalf("collectSupplied: %v", err)
	}
	if len(supplied) != 1 || len(supplied[0].Values) != 2 {
		t.Fatalf("supplied = %+v", supplied)
	}
}

func TestDeprecatedActionExcluded(t *testing.T) {
	cat := &actionsmap.Category{
		Name: "domain",
		Actions: []*actionsmap.Action{
			{Name: "old-thing", Deprecated: true, API: []string{"PUT /old"}},
			{Name: "info", API: []string{"GET /domains/<domain>"}},
		},
	}
	cmd := newCategoryCommand(nil, cat)

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	if len(names) != 1 || names[0] != "info" {
		t.Fatalf("registered commands = %v", names)
	}

	hidden := &actionsmap.Action{Name: "probe", Hidden: true, API: []string{"GET /probe"}}
	if !newActionCommand([]string{"domain"}, hidden).Hidden {
		t.Fatal("hidden action is visible")
	}
}
