package actionsmap

import (
	"errors"
	"testing"
)

func testAction(api ...string) *Action {
	return &Action{
		Name: "test",
		API:  api,
		Arguments: []*Argument{
			{Flag: "app"},
			{Flag: "domain"},
			{Flag: "key"},
			{Flag: "usernames", Nargs: "+"},
			{Flag: "-p", Full: "--password", Redact: true},
			{Flag: "-k", Full: "--key"},
			{Flag: "-v", Full: "--value"},
			{Flag: "--force", Action: "store_true"},
		},
	}
}

func TestResolveSubstitutesPlaceholder(t *testing.T) {
	action := testAction("POST /apps/<app>")
	req, err := Resolve(action, []Supplied{{Flag: "app", Values: []string{"wordpress"}}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Method != "POST" || req.URI != "/apps/wordpress" {
		t.Fatalf("got %s %s", req.Method, req.URI)
	}
	if len(req.Params) != 0 {
		t.Fatalf("params = %v, want empty", req.Params)
	}
}

func TestResolveNoArguments(t *testing.T) {
	action := testAction("GET /users")
	req, err := Resolve(action, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Method != "GET" || req.URI != "/users" || len(req.Params) != 0 {
		t.Fatalf("got %s %s %v", req.Method, req.URI, req.Params)
	}
}

func TestResolveExtraArgumentsBecomeParams(t *testing.T) {
	action := testAction("DELETE /apps/<app>")
	req, err := Resolve(action, []Supplied{
		{Flag: "app", Values: []string{"wordpress"}},
		{Flag: "--force", Values: []string{"true"}},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.URI != "/apps/wordpress" {
		t.Fatalf("uri = %s", req.URI)
	}
	if got := req.Params.Get("force"); got != "true" {
		t.Fatalf("params = %v", req.Params)
	}
}

func TestResolveSequenceJoinedWithEncodedSpace(t *testing.T) {
	action := testAction("PUT /services/<usernames>/restart")
	req, err := Resolve(action, []Supplied{
		{Flag: "usernames", Values: []string{"nginx", "php8.2-fpm"}},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.URI != "/services/nginx%20php8.2-fpm/restart" {
		t.Fatalf("uri = %s", req.URI)
	}
}

func TestResolveEncodesSpacesInsideValue(t *testing.T) {
	action := testAction("GET /apps/<app>")
	req, err := Resolve(action, []Supplied{
		{Flag: "app", Values: []string{"my app"}},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.URI != "/apps/my%20app" {
		t.Fatalf("uri = %s", req.URI)
	}
}

func TestResolveDuplicateCanonicalName(t *testing.T) {
	action := testAction("POST /users")
	_, err := Resolve(action, []Supplied{
		{Flag: "-p", Values: []string{"one"}},
		{Flag: "--password", Values: []string{"two"}},
	})
	var dup *DuplicateArgumentError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want *DuplicateArgumentError", err)
	}
	if dup.Name != "password" {
		t.Fatalf("duplicate name = %q, want password", dup.Name)
	}
}

func TestResolveUnknownArgument(t *testing.T) {
	action := testAction("GET /users")
	_, err := Resolve(action, []Supplied{{Flag: "--bogus", Values: []string{"x"}}})
	if err == nil {
		t.Fatal("expected an error for an undeclared argument")
	}
}

func TestResolveSelectsTemplateByPlaceholder(t *testing.T) {
	action := testAction(
		"GET /domains/<domain>/config/<key>",
		"PUT /domains/<domain>/config",
	)

	// key appears only in the GET template, so supplying it selects GET.
	req, err := Resolve(action, []Supplied{
		{Flag: "domain", Values: []string{"example.org"}},
		{Flag: "-k", Values: []string{"mail"}},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Method != "GET" || req.URI != "/domains/example.org/config/mail" {
		t.Fatalf("got %s %s", req.Method, req.URI)
	}

	// Without key the GET template keeps an unresolved placeholder and the
	// PUT template wins; value rides along as a parameter.
	req, err = Resolve(action, []Supplied{
		{Flag: "domain", Values: []string{"example.org"}},
		{Flag: "-v", Values: []string{"letsencrypt"}},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Method != "PUT" || req.URI != "/domains/example.org/config" {
		t.Fatalf("got %s %s", req.Method, req.URI)
	}
	if got := req.Params.Get("value"); got != "letsencrypt" {
		t.Fatalf("params = %v", req.Params)
	}
}

func TestResolveUnresolvedPlaceholderFailsLoudly(t *testing.T) {
	action := testAction("DELETE /apps/<app>")
	_, err := Resolve(action, nil)
	var amb *AmbiguousTemplateError
	if !errors.As(err, &amb) {
		t.Fatalf("err = %v, want *AmbiguousTemplateError", err)
	}
}

func TestResolveBothTemplatesCompleteFailsLoudly(t *testing.T) {
	action := testAction("GET /status", "PUT /status")
	_, err := Resolve(action, nil)
	var amb *AmbiguousTemplateError
	if !errors.As(err, &amb) {
		t.Fatalf("err = %v, want *AmbiguousTemplateError", err)
	}
}

func TestResolveNoEndpoint(t *testing.T) {
	action := &Action{Name: "local-only"}
	_, err := Resolve(action, nil)
	var amb *AmbiguousTemplateError
	if !errors.As(err, &amb) {
		t.Fatalf("err = %v, want *AmbiguousTemplateError", err)
	}
}
