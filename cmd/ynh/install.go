package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/YunoHost/cli/internal/actionsmap"
	"github.com/YunoHost/cli/internal/session"
)

// installQuestion is one entry of a manifest's install section.
type installQuestion struct {
	Name     string
	Type     string
	Ask      string
	Default  string
	Choices  []string
	Optional bool
}

// maybeRunInstallInterview fills in the installation arguments for
// "app install" by fetching the app manifest and asking its install
// questions, the way the web admin does. It only kicks in interactively
// and when the user did not pass --args themselves.
func maybeRunInstallInterview(ctx context.Context, cmd *cobra.Command, sess *session.Session, categoryPath []string, action *actionsmap.Action, supplied []actionsmap.Supplied) ([]actionsmap.Supplied, error) {
	if len(categoryPath) != 1 || categoryPath[0] != "app" || action.Name != "install" {
		return supplied, nil
	}
	if !isInteractive() {
		return supplied, nil
	}

	var appID string
	for _, sup := range supplied {
		switch strings.TrimLeft(sup.Flag, "-") {
		case "args", "a":
			// Explicit arguments win over the interview.
			return supplied, nil
		case "app":
			if len(sup.Values) > 0 {
				appID = sup.Values[0]
			}
		}
	}
	if appID == "" {
		return supplied, nil
	}

	questions, err := fetchInstallQuestions(ctx, sess, appID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return supplied, nil
	}

	form := url.Values{}
	for _, q := range questions {
		answer, err := askQuestion(q)
		if err != nil {
			return nil, err
		}
		if answer == "" && q.Optional {
			continue
		}
		form.Set(q.Name, answer)
	}

	return append(supplied, actionsmap.Supplied{Flag: "--args", Values: []string{form.Encode()}}), nil
}

func fetchInstallQuestions(ctx context.Context, sess *session.Session, appID string) ([]installQuestion, error) {
	resp, err := sess.Request(ctx, http.MethodGet, "/apps/manifest", url.Values{"app": {appID}})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch manifest for %s: %s (HTTP %d)", appID, apiErrorMessage(resp), resp.StatusCode)
	}
	return parseInstallQuestions(resp.Body)
}

// parseInstallQuestions extracts the install section of a manifest. The
// body is decoded through yaml.Node (JSON is a YAML subset) so questions
// keep the order the packager declared.
func parseInstallQuestions(manifest []byte) ([]installQuestion, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(manifest, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse manifest: unexpected shape")
	}

	root := doc.Content[0]
	var install *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "install" {
			install = root.Content[i+1]
			break
		}
	}
	if install == nil || install.Kind != yaml.MappingNode {
		return nil, nil
	}

	var questions []installQuestion
	for i := 0; i+1 < len(install.Content); i += 2 {
		q := installQuestion{Name: install.Content[i].Value}
		props := install.Content[i+1]
		if props.Kind != yaml.MappingNode {
			questions = append(questions, q)
			continue
		}
		for j := 0; j+1 < len(props.Content); j += 2 {
			key, value := props.Content[j].Value, props.Content[j+1]
			switch key {
			case "type":
				q.Type = value.Value
			case "ask":
				q.Ask = localizedString(value)
			case "default":
				q.Default = value.Value
			case "optional":
				value.Decode(&q.Optional)
			case "choices":
				value.Decode(&q.Choices)
			}
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// localizedString resolves an ask field that is either a plain string or a
// language map, preferring English.
func localizedString(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value
	case yaml.MappingNode:
		first := ""
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "en" {
				return node.Content[i+1].Value
			}
			if first == "" {
				first = node.Content[i+1].Value
			}
		}
		return first
	}
	return ""
}

func askQuestion(q installQuestion) (string, error) {
	label := q.Ask
	if label == "" {
		label = q.Name
	}

	switch q.Type {
	case "password":
		return promptPassword(label + ": ")
	case "boolean":
		fallback := q.Default == "true" || q.Default == "1"
		answer, err := promptBool(label, fallback)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(answer), nil
	default:
		if len(q.Choices) > 0 {
			label = fmt.Sprintf("%s (%s)", label, strings.Join(q.Choices, "/"))
		}
		answer, err := promptString(label, q.Default)
		if err != nil {
			return "", err
		}
		if len(q.Choices) > 0 && answer != "" {
			valid := false
			for _, choice := range q.Choices {
				if answer == choice {
					valid = true
					break
				}
			}
			if !valid {
				return "", fmt.Errorf("%s: invalid choice %q (want one of %s)", q.Name, answer, strings.Join(q.Choices, ", "))
			}
		}
		if answer == "" && !q.Optional {
			return "", fmt.Errorf("%s: an answer is required", q.Name)
		}
		return answer, nil
	}
}
