package selectors

import (
	"fmt"
	"os"

	"github.com/andybalholm/cascadia"
	yaml "gopkg.in/yaml.v3"
)

// Registry maps symbolic structural roles in the host document to CSS
// selector groups. No locator is hard-coded anywhere else, so host markup
// drift is remediated by editing this map alone, either here or via an
// override file.
type Registry struct {
	// ConversationRoot bounds the subtree that is snapshotted and walked.
	ConversationRoot string `yaml:"conversationRoot"`
	// ScrollRegion is the element driven backward through history.
	ScrollRegion string `yaml:"scrollRegion"`
	// LoadingIndicator marks an in-flight history batch.
	LoadingIndicator string `yaml:"loadingIndicator"`
	// BusyIndicator marks a response still being generated.
	BusyIndicator string `yaml:"busyIndicator"`
	// TurnContainer holds at most one user and one assistant section.
	TurnContainer string `yaml:"turnContainer"`
	// UserSection and AssistantSection identify role-attributed content.
	UserSection      string `yaml:"userSection"`
	AssistantSection string `yaml:"assistantSection"`
	// ReasoningSection holds assistant reasoning, extracted separately.
	ReasoningSection string `yaml:"reasoningSection"`
	// ReasoningToggle expands collapsed reasoning before the snapshot.
	ReasoningToggle string `yaml:"reasoningToggle"`
	// CodeBlock and CodeLabel drive fenced code reconstruction.
	CodeBlock string `yaml:"codeBlock"`
	CodeLabel string `yaml:"codeLabel"`
	// ImageNode locates attachment references.
	ImageNode string `yaml:"imageNode"`
	// TitleNode locates the conversation title inside the document.
	TitleNode string `yaml:"titleNode"`
}

// Default returns the registry for the currently supported host markup.
func Default() Registry {
	return Registry{
		ConversationRoot: `main, [data-testid="conversation"]`,
		ScrollRegion:     `[data-testid="chat-scroll-region"], main [class*="overflow-y-auto"]`,
		LoadingIndicator: `[data-testid="history-loading"], [class*="loading-spinner"]`,
		BusyIndicator:    `[data-testid="stop-generating"], button[aria-label*="Stop"]`,
		TurnContainer:    `[data-turn-id], [data-testid^="conversation-turn"]`,
		UserSection:      `[data-message-author-role="user"], [class*="user-message"]`,
		AssistantSection: `[data-message-author-role="assistant"], [class*="assistant-message"]`,
		ReasoningSection: `[data-testid="reasoning-content"], [class*="thinking-block"]`,
		ReasoningToggle:  `button[aria-label*="reasoning"], button[aria-label*="thought"]`,
		CodeBlock:        `pre`,
		CodeLabel:        `[class*="code-language"], [data-language-label]`,
		ImageNode:        `img`,
		TitleNode:        `header h1, [data-testid="conversation-title"]`,
	}
}

// Load reads a YAML override file and merges it over the defaults. Only
// roles present and non-empty in the file replace the default locator, so a
// remediation file can carry just the roles that drifted.
func Load(path string) (Registry, error) {
	reg := Default()
	if path == "" {
		return reg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return reg, fmt.Errorf("read selectors file: %w", err)
	}
	var over Registry
	if err := yaml.Unmarshal(b, &over); err != nil {
		return reg, fmt.Errorf("parse selectors file: %w", err)
	}
	reg.merge(over)
	return reg, nil
}

func (r *Registry) merge(over Registry) {
	apply := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	apply(&r.ConversationRoot, over.ConversationRoot)
	apply(&r.ScrollRegion, over.ScrollRegion)
	apply(&r.LoadingIndicator, over.LoadingIndicator)
	apply(&r.BusyIndicator, over.BusyIndicator)
	apply(&r.TurnContainer, over.TurnContainer)
	apply(&r.UserSection, over.UserSection)
	apply(&r.AssistantSection, over.AssistantSection)
	apply(&r.ReasoningSection, over.ReasoningSection)
	apply(&r.ReasoningToggle, over.ReasoningToggle)
	apply(&r.CodeBlock, over.CodeBlock)
	apply(&r.CodeLabel, over.CodeLabel)
	apply(&r.ImageNode, over.ImageNode)
	apply(&r.TitleNode, over.TitleNode)
}

// Compiled holds the registry's selector groups compiled for tree matching.
type Compiled struct {
	ConversationRoot cascadia.Selector
	TurnContainer    cascadia.Selector
	UserSection      cascadia.Selector
	AssistantSection cascadia.Selector
	ReasoningSection cascadia.Selector
	CodeBlock        cascadia.Selector
	CodeLabel        cascadia.Selector
	ImageNode        cascadia.Selector
	TitleNode        cascadia.Selector
}

// Compile validates and compiles the roles used for tree matching. The
// browser-side roles (scroll region, indicators, toggles) stay as raw
// selector strings because they are evaluated inside the page.
func (r Registry) Compile() (*Compiled, error) {
	c := &Compiled{}
	for _, role := range []struct {
		name string
		sel  string
		dst  *cascadia.Selector
	}{
		{"conversationRoot", r.ConversationRoot, &c.ConversationRoot},
		{"turnContainer", r.TurnContainer, &c.TurnContainer},
		{"userSection", r.UserSection, &c.UserSection},
		{"assistantSection", r.AssistantSection, &c.AssistantSection},
		{"reasoningSection", r.ReasoningSection, &c.ReasoningSection},
		{"codeBlock", r.CodeBlock, &c.CodeBlock},
		{"codeLabel", r.CodeLabel, &c.CodeLabel},
		{"imageNode", r.ImageNode, &c.ImageNode},
		{"titleNode", r.TitleNode, &c.TitleNode},
	} {
		sel, err := cascadia.Compile(role.sel)
		if err != nil {
			return nil, fmt.Errorf("selector role %s: %w", role.name, err)
		}
		*role.dst = sel
	}
	return c, nil
}
