package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/YunoHost/cli/internal/actionsmap"
	"github.com/YunoHost/cli/internal/session"
)

// newCategoryCommand builds the cobra subtree for one actionsmap category,
// recursing into subcategories.
func newCategoryCommand(parents []string, cat *actionsmap.Category) *cobra.Command {
	cmd := &cobra.Command{
		Use:           cat.Name,
		Short:         cat.Help,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	path := append(append([]string{}, parents...), cat.Name)
	for _, action := range cat.Actions {
		if action.Deprecated {
			continue
		}
		cmd.AddCommand(newActionCommand(path, action))
	}
	for _, sub := range cat.Subcategories {
		cmd.AddCommand(newCategoryCommand(path, sub))
	}

	return cmd
}

func newActionCommand(categoryPath []string, action *actionsmap.Action) *cobra.Command {
	positionals := positionalArguments(action)

	cmd := &cobra.Command{
		Use:           actionUsage(action, positionals),
		Short:         action.Help,
		Hidden:        action.Hidden,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          positionalValidator(positionals),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, categoryPath, action, args)
		},
	}
	for _, arg := range action.Arguments {
		if arg.Positional() {
			continue
		}
		registerFlag(cmd, arg)
	}

	return cmd
}

func positionalArguments(action *actionsmap.Action) []*actionsmap.Argument {
	var out []*actionsmap.Argument
	for _, arg := range action.Arguments {
		if arg.Positional() {
			out = append(out, arg)
		}
	}
	return out
}

func actionUsage(action *actionsmap.Action, positionals []*actionsmap.Argument) string {
	parts := []string{action.Name}
	for _, arg := range positionals {
		switch arg.Nargs {
		case "?":
			parts = append(parts, "["+arg.Flag+"]")
		case "*":
			parts = append(parts, "["+arg.Flag+"...]")
		case "+":
			parts = append(parts, "<"+arg.Flag+"...>")
		default:
			parts = append(parts, "<"+arg.Flag+">")
		}
	}
	return strings.Join(parts, " ")
}

// positionalValidator enforces the arity the actionsmap declares: every
// plain positional is required, "?" and "*" are optional, "+" and "*" are
// variadic.
func positionalValidator(positionals []*actionsmap.Argument) cobra.PositionalArgs {
	min, variadic := 0, false
	for _, arg := range positionals {
		switch arg.Nargs {
		case "?":
		case "*":
			variadic = true
		case "+":
			min++
			variadic = true
		default:
			min++
		}
	}
	max := len(positionals)

	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min {
			return fmt.Errorf("requires at least %d argument(s), received %d", min, len(args))
		}
		if !variadic && len(args) > max {
			return fmt.Errorf("accepts at most %d argument(s), received %d", max, len(args))
		}
		return nil
	}
}

func registerFlag(cmd *cobra.Command, arg *actionsmap.Argument) {
	name, shorthand := flagSpelling(arg)
	help := arg.Help
	if len(arg.Choices) > 0 {
		help = fmt.Sprintf("%s (one of %s)", help, strings.Join(arg.Choices, ", "))
	}

	switch arg.Action {
	case "store_true":
		cmd.Flags().BoolP(name, shorthand, false, help)
	case "append":
		cmd.Flags().StringArrayP(name, shorthand, nil, help)
	case "count":
		cmd.Flags().CountP(name, shorthand, help)
	default:
		cmd.Flags().StringP(name, shorthand, "", help)
	}
}

// flagSpelling maps an actionsmap argument to a pflag name and shorthand:
// "-p" with full "--password" becomes ("password", "p"), a bare "--force"
// becomes ("force", "").
func flagSpelling(arg *actionsmap.Argument) (name, shorthand string) {
	long := arg.Full
	if long == "" {
		long = arg.Flag
	}
	name = strings.TrimLeft(long, "-")

	if arg.Full != "" && strings.HasPrefix(arg.Flag, "-") && !strings.HasPrefix(arg.Flag, "--") {
		shorthand = strings.TrimPrefix(arg.Flag, "-")
	}
	return name, shorthand
}

// collectSupplied gathers the values the user actually provided, mapping
// positionals by declaration order and flags by pflag's Changed tracking.
func collectSupplied(cmd *cobra.Command, action *actionsmap.Action, args []string) ([]actionsmap.Supplied, error) {
	var supplied []actionsmap.Supplied

	positionals := positionalArguments(action)
	rest := args
	for i, arg := range positionals {
		if len(rest) == 0 {
			break
		}
		switch arg.Nargs {
		case "+", "*":
			// Variadic, consumes everything that is left.
			if i != len(positionals)-1 {
				return nil, fmt.Errorf("argument %s: variadic positionals must come last", arg.Flag)
			}
			supplied = append(supplied, actionsmap.Supplied{Flag: arg.Flag, Values: rest})
			rest = nil
		default:
			if err := validateChoice(arg, rest[0]); err != nil {
				return nil, err
			}
			supplied = append(supplied, actionsmap.Supplied{Flag: arg.Flag, Values: []string{rest[0]}})
			rest = rest[1:]
		}
	}

	for _, arg := range action.Arguments {
		if arg.Positional() {
			continue
		}
		name, _ := flagSpelling(arg)
		if !cmd.Flags().Changed(name) {
			continue
		}

		var values []string
		switch arg.Action {
		case "store_true":
			v, _ := cmd.Flags().GetBool(name)
			values = []string{strconv.FormatBool(v)}
		case "append":
			values, _ = cmd.Flags().GetStringArray(name)
		case "count":
			n, _ := cmd.Flags().GetCount(name)
			values = []string{strconv.Itoa(n)}
		default:
			v, _ := cmd.Flags().GetString(name)
			if err := validateChoice(arg, v); err != nil {
				return nil, err
			}
			values = []string{v}
		}
		supplied = append(supplied, actionsmap.Supplied{Flag: arg.Flag, Values: values})
	}

	return supplied, nil
}

func validateChoice(arg *actionsmap.Argument, value string) error {
	if len(arg.Choices) == 0 {
		return nil
	}
	for _, choice := range arg.Choices {
		if value == choice {
			return nil
		}
	}
	return fmt.Errorf("argument %s: invalid choice %q (want one of %s)",
		arg.Name(), value, strings.Join(arg.Choices, ", "))
}

// runAction executes one schema-driven command: authenticate, follow the
// event stream while the request runs, then render the response.
func runAction(cmd *cobra.Command, categoryPath []string, action *actionsmap.Action, args []string) error {
	ctx := context.Background()
	out := newFormatter(cmd)

	supplied, err := collectSupplied(cmd, action, args)
	if err != nil {
		return err
	}

	sess, _, err := openSession(cmd)
	if err != nil {
		return err
	}

	if err := sess.Login(ctx, false); err != nil {
		return err
	}
	if err := sess.AssertMinVersion(ctx, minServerVersion); err != nil {
		return err
	}

	supplied, err = maybeRunInstallInterview(ctx, cmd, sess, categoryPath, action, supplied)
	if err != nil {
		return err
	}

	req, err := actionsmap.Resolve(action, supplied)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		sess.StreamEvents(streamCtx, session.StreamOptions{}, out.PrintNotice)
	}()

	resp, err := sess.Request(ctx, req.Method, req.URI, req.Params)

	// Give the stream a moment to deliver trailing events before tearing
	// it down.
	select {
	case <-streamDone:
	case <-time.After(500 * time.Millisecond):
	}
	cancel()
	<-streamDone

	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%s (HTTP %d)", apiErrorMessage(resp), resp.StatusCode)
	}

	return out.PrintBody(resp.Body)
}
