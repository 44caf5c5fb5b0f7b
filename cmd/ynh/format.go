package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"
	"gopkg.in/yaml.v3"

	"github.com/YunoHost/cli/internal/session"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorBlue   = "\x1b[34m"
	colorDim    = "\x1b[2m"
)

// tableKeys are top-level response keys whose map-of-records payloads read
// better as a table than as a nested dump.
var tableKeys = map[string]struct{}{
	"users":       {},
	"apps":        {},
	"domains":     {},
	"groups":      {},
	"permissions": {},
	"services":    {},
}

// Formatter renders API responses and event notices according to the
// --output-as flag.
type Formatter struct {
	mode  string
	color bool
}

func newFormatter(cmd *cobra.Command) *Formatter {
	mode, _ := cmd.Flags().GetString("output-as")
	return &Formatter{
		mode:  mode,
		color: terminal.IsTerminal(int(os.Stdout.Fd())),
	}
}

// PrintBody renders one API response body. An empty or null body prints
// nothing in human mode so that quiet success stays quiet.
func (f *Formatter) PrintBody(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if f.mode == "json" {
			fmt.Println("{}")
		}
		return nil
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		// Not JSON, show it raw.
		fmt.Println(strings.TrimSpace(string(trimmed)))
		return nil
	}

	switch f.mode {
	case "json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
			return err
		}
		fmt.Println(buf.String())
	case "yaml":
		out, err := yaml.Marshal(decoded)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	case "plain":
		printPlain(decoded, "")
	default:
		f.printHuman(decoded)
	}
	return nil
}

// printPlain is the script-friendly dump: nested keys become "#key"
// headers, scalars one per line.
func printPlain(value any, prefix string) {
	switch v := value.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			fmt.Printf("%s#%s\n", prefix, key)
			printPlain(v[key], prefix+"#")
		}
	case []any:
		for _, item := range v {
			printPlain(item, prefix)
		}
	default:
		fmt.Println(scalarString(v))
	}
}

func (f *Formatter) printHuman(value any) {
	if top, ok := value.(map[string]any); ok && len(top) == 1 {
		for key, inner := range top {
			if _, tabular := tableKeys[key]; tabular && f.printTable(inner) {
				return
			}
		}
	}
	f.printSimple(value, 0)
}

// printTable renders a map of flat records (or a plain list) as a table.
// It reports false when the shape does not fit, so the caller can fall
// back to the generic rendering.
func (f *Formatter) printTable(value any) bool {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if _, ok := item.(map[string]any); ok {
				return false
			}
		}
		for _, item := range v {
			fmt.Println(scalarString(item))
		}
		return true

	case map[string]any:
		records := make(map[string]map[string]any, len(v))
		columns := map[string]struct{}{}
		for name, raw := range v {
			record, ok := raw.(map[string]any)
			if !ok {
				return false
			}
			for col, cell := range record {
				if !isScalar(cell) {
					return false
				}
				columns[col] = struct{}{}
			}
			records[name] = record
		}
		if len(records) == 0 {
			return false
		}

		cols := make([]string, 0, len(columns))
		for col := range columns {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "NAME\t%s\n", strings.ToUpper(strings.Join(cols, "\t")))
		for _, name := range sortedKeys(v) {
			cells := make([]string, 0, len(cols))
			for _, col := range cols {
				cells = append(cells, scalarString(records[name][col]))
			}
			fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(cells, "\t"))
		}
		w.Flush()
		return true

	default:
		return false
	}
}

// printSimple is the generic human rendering: indented key/value pairs
// with dashes for list items.
func (f *Formatter) printSimple(value any, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v := value.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			child := v[key]
			if isScalar(child) {
				fmt.Printf("%s%s: %s\n", indent, f.colorize(colorBlue, key), scalarString(child))
				continue
			}
			fmt.Printf("%s%s:\n", indent, f.colorize(colorBlue, key))
			f.printSimple(child, depth+1)
		}
	case []any:
		for _, item := range v {
			if isScalar(item) {
				fmt.Printf("%s- %s\n", indent, scalarString(item))
				continue
			}
			fmt.Printf("%s-\n", indent)
			f.printSimple(item, depth+1)
		}
	default:
		fmt.Printf("%s%s\n", indent, scalarString(v))
	}
}

// PrintNotice renders one event-stream notice on stderr, keeping stdout
// clean for the actual response data.
func (f *Formatter) PrintNotice(n session.Notice) {
	if f.mode == "json" || f.mode == "plain" {
		// Machine-readable modes stay free of progress chatter.
		return
	}

	stamp := ""
	if n.Timestamp > 0 {
		stamp = time.Unix(int64(n.Timestamp), 0).Format("15:04:05") + " "
	}

	label := strings.ToUpper(n.Level)
	switch n.Level {
	case "error":
		label = f.colorizeErr(colorRed, label)
	case "warning":
		label = f.colorizeErr(colorYellow, label)
	case "success":
		label = f.colorizeErr(colorGreen, label)
	default:
		label = f.colorizeErr(colorBlue, label)
	}

	prefix := ""
	if n.History {
		prefix = f.colorizeErr(colorDim, "[history] ")
	}

	fmt.Fprintf(os.Stderr, "%s%s%s %s\n", prefix, stamp, label, n.Message)
}

func (f *Formatter) colorize(color, s string) string {
	if !f.color {
		return s
	}
	return color + s + colorReset
}

func (f *Formatter) colorizeErr(color, s string) string {
	if !terminal.IsTerminal(int(os.Stderr.Fd())) {
		return s
	}
	return color + s + colorReset
}

func apiErrorMessage(resp *session.Response) string {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(resp.Body, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	if msg := strings.TrimSpace(string(resp.Body)); msg != "" {
		return msg
	}
	return strings.TrimSpace(resp.Status)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	return true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprintf("%v", t)
	}
}
