// selcheck is a remediation aid: point it at a saved HTML snapshot and it
// prints how many nodes each registry role matches, so a drifted selector is
// obvious before running a full export.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hyperifyio/chatexport/internal/selectors"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: selcheck <snapshot.html> [selectors.yaml]")
		os.Exit(2)
	}
	overrides := ""
	if len(os.Args) > 2 {
		overrides = os.Args[2]
	}

	reg, err := selectors.Load(overrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load selectors:", err)
		os.Exit(2)
	}
	b, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(2)
	}
	root, err := html.Parse(strings.NewReader(string(b)))
	if err != nil {
		fmt.Fprintln(os.Stderr, "parse snapshot:", err)
		os.Exit(2)
	}

	for _, role := range []struct {
		name string
		sel  string
	}{
		{"conversationRoot", reg.ConversationRoot},
		{"scrollRegion", reg.ScrollRegion},
		{"loadingIndicator", reg.LoadingIndicator},
		{"busyIndicator", reg.BusyIndicator},
		{"turnContainer", reg.TurnContainer},
		{"userSection", reg.UserSection},
		{"assistantSection", reg.AssistantSection},
		{"reasoningSection", reg.ReasoningSection},
		{"reasoningToggle", reg.ReasoningToggle},
		{"codeBlock", reg.CodeBlock},
		{"codeLabel", reg.CodeLabel},
		{"imageNode", reg.ImageNode},
		{"titleNode", reg.TitleNode},
	} {
		sel, err := cascadia.Compile(role.sel)
		if err != nil {
			fmt.Printf("%-18s compile error: %v\n", role.name, err)
			continue
		}
		fmt.Printf("%-18s %4d  %s\n", role.name, len(sel.MatchAll(root)), role.sel)
	}
}
