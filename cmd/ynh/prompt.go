package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh/terminal"
)

func isInteractive() bool {
	return terminal.IsTerminal(0)
}

// promptPassword reads a password without echoing it. It refuses to run
// when stdin is not a terminal, a script should pass credentials by flag.
func promptPassword(label string) (string, error) {
	if !isInteractive() {
		return "", fmt.Errorf("stdin is not a terminal, pass the password with --password")
	}

	fmt.Fprint(os.Stderr, label)
	raw, err := terminal.ReadPassword(0)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

// promptString reads one line, returning fallback on empty input.
func promptString(label, fallback string) (string, error) {
	if fallback != "" {
		fmt.Fprintf(os.Stderr, "%s [%s]: ", label, fallback)
	} else {
		fmt.Fprintf(os.Stderr, "%s: ", label)
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback, nil
	}
	return line, nil
}

// promptBool asks a yes/no question.
func promptBool(label string, fallback bool) (bool, error) {
	hint := "y/N"
	if fallback {
		hint = "Y/n"
	}
	answer, err := promptString(fmt.Sprintf("%s (%s)", label, hint), "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return fallback, nil
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return false, fmt.Errorf("answer %q not understood (want y or n)", answer)
	}
}
