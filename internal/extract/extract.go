package extract

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hyperifyio/chatexport/internal/selectors"
)

// Role attributes a turn to one side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment is an unresolved image reference gathered during extraction.
// Resolution to bytes happens later, in the image pipeline.
type Attachment struct {
	// Source is the opaque locator as it appears in the document: an
	// inline data URI, an ephemeral blob handle, or a remote URL.
	Source string
	// TurnIndex is the owning turn, kept for diagnostics.
	TurnIndex int
}

// Turn is one attributed message in document order. Turns are immutable
// once built and live only for the duration of a single extraction.
type Turn struct {
	Index       int
	Role        Role
	Content     string
	Reasoning   string
	Attachments []Attachment
}

// ErrNoStructure indicates that neither turn containers nor role sections
// matched anywhere in the snapshot. The orchestrator treats this as a fatal
// precondition failure rather than returning an empty transcript that would
// mask selector drift.
var ErrNoStructure = errors.New("no conversation structure matched")

// Extractor walks a document snapshot and reconstructs ordered turns.
type Extractor struct {
	Sel *selectors.Compiled
}

// FromSnapshot produces turns in document order from serialized HTML.
//
// Primary strategy: paired turn containers, each holding at most one user
// and one assistant section, extracted user-then-assistant. Fallback when
// the container pattern is absent: the union of role-section matches sorted
// by document position, each classified by its own role marker, which keeps
// a single code path for both roles.
func (e *Extractor) FromSnapshot(snapshot string) ([]Turn, error) {
	root, err := html.Parse(strings.NewReader(snapshot))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	var turns []Turn
	for _, container := range topLevelMatches(e.Sel.TurnContainer, root) {
		if u := e.Sel.UserSection.MatchFirst(container); u != nil {
			turns = append(turns, e.buildTurn(len(turns), RoleUser, u))
		}
		if a := e.Sel.AssistantSection.MatchFirst(container); a != nil {
			turns = append(turns, e.buildTurn(len(turns), RoleAssistant, a))
		}
	}
	if len(turns) > 0 {
		return turns, nil
	}

	sections := e.Sel.UserSection.MatchAll(root)
	sections = append(sections, e.Sel.AssistantSection.MatchAll(root)...)
	sections = dedupe(sections)
	if len(sections) == 0 {
		return nil, ErrNoStructure
	}
	sortByDocumentOrder(root, sections)
	for _, s := range sections {
		role := RoleAssistant
		if e.Sel.UserSection.Match(s) {
			role = RoleUser
		}
		turns = append(turns, e.buildTurn(len(turns), role, s))
	}
	return turns, nil
}

// Title returns the conversation title from the snapshot: the registry's
// title node first, then the document <title>.
func (e *Extractor) Title(snapshot string) string {
	root, err := html.Parse(strings.NewReader(snapshot))
	if err != nil {
		return ""
	}
	if n := e.Sel.TitleNode.MatchFirst(root); n != nil {
		if t := strings.TrimSpace(plainText(n)); t != "" {
			return t
		}
	}
	if head := findFirst(root, "head"); head != nil {
		if t := findFirst(head, "title"); t != nil && t.FirstChild != nil {
			return strings.TrimSpace(t.FirstChild.Data)
		}
	}
	return ""
}

// buildTurn extracts one section into a turn. The section subtree is cloned
// first so the parsed snapshot is never mutated; reasoning is captured and
// excised from the clone before main-content extraction, which prevents the
// same text appearing in both fields. A section with no text and no images
// still yields a turn with empty content.
func (e *Extractor) buildTurn(index int, role Role, section *html.Node) Turn {
	clone := cloneSubtree(section)
	turn := Turn{Index: index, Role: role}

	if role == RoleAssistant {
		var parts []string
		wholeSection := false
		for _, rn := range e.Sel.ReasoningSection.MatchAll(clone) {
			if text := normalizeWhitespace(e.collectString(rn)); text != "" {
				parts = append(parts, text)
			}
			if rn.Parent != nil {
				rn.Parent.RemoveChild(rn)
			} else {
				wholeSection = true
			}
		}
		turn.Reasoning = strings.Join(parts, "\n\n")
		if wholeSection {
			// The section itself is a reasoning block; nothing remains
			// as main content.
			return turn
		}
	}

	for _, img := range e.Sel.ImageNode.MatchAll(clone) {
		src := attrVal(img, "src")
		if src == "" {
			src = attrVal(img, "data-src")
		}
		if src == "" {
			continue
		}
		turn.Attachments = append(turn.Attachments, Attachment{Source: src, TurnIndex: index})
	}

	turn.Content = normalizeWhitespace(e.collectString(clone))
	return turn
}

func (e *Extractor) collectString(n *html.Node) string {
	var b strings.Builder
	e.collect(&b, n)
	return b.String()
}

// collect walks the subtree gathering text with block-level separation.
// Detected code regions are emitted as fenced blocks and their children are
// not walked again.
func (e *Extractor) collect(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		if e.Sel.CodeBlock.Match(n) {
			e.writeFence(b, n)
			return
		}
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "template", "button", "svg":
			return
		case "br", "hr":
			b.WriteString("\n")
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "blockquote", "div", "ul", "ol", "tr":
			b.WriteString("\n")
		}
	}
	if n.Type == html.TextNode {
		data := strings.ReplaceAll(n.Data, "\t", " ")
		data = strings.ReplaceAll(data, "\r", " ")
		b.WriteString(data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.collect(b, c)
	}
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote":
			b.WriteString("\n\n")
		case "li", "div", "tr":
			b.WriteString("\n")
		}
	}
}

// writeFence emits a code region as a fenced block with a best-effort
// language label. Label priority: attribute on the code element itself,
// then an ancestor attribute, then a sibling label element.
func (e *Extractor) writeFence(b *strings.Builder, n *html.Node) {
	lang := e.codeLanguage(n)
	body := strings.Trim(e.rawText(n), "\n")
	b.WriteString("\n```")
	b.WriteString(lang)
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n```\n")
}

// rawText concatenates text nodes verbatim, skipping label and control
// chrome that hosts render inside code regions.
func (e *Extractor) rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.ElementNode && cur != n {
			if strings.EqualFold(cur.Data, "button") || e.Sel.CodeLabel.Match(cur) {
				return
			}
		}
		if cur.Type == html.TextNode {
			b.WriteString(cur.Data)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func (e *Extractor) codeLanguage(n *html.Node) string {
	// The code element itself, or a code child of a matched <pre>.
	if lang := attrLanguage(n); lang != "" {
		return lang
	}
	if code := findFirst(n, "code"); code != nil {
		if lang := attrLanguage(code); lang != "" {
			return lang
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if lang := attrLanguage(p); lang != "" {
			return lang
		}
	}
	// Sibling label: inside the region, or immediately before it or its
	// parent. Hosts commonly render a header bar naming the language just
	// above the block.
	if label := e.Sel.CodeLabel.MatchFirst(n); label != nil && label != n {
		return strings.TrimSpace(plainText(label))
	}
	for _, start := range []*html.Node{n, n.Parent} {
		if start == nil {
			continue
		}
		for sib := start.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type != html.ElementNode {
				continue
			}
			if e.Sel.CodeLabel.Match(sib) {
				return strings.TrimSpace(plainText(sib))
			}
			if label := e.Sel.CodeLabel.MatchFirst(sib); label != nil {
				return strings.TrimSpace(plainText(label))
			}
		}
	}
	return ""
}

func attrLanguage(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "data-language", "data-lang":
			return strings.TrimSpace(attr.Val)
		case "class":
			for _, field := range strings.Fields(attr.Val) {
				if rest, ok := strings.CutPrefix(field, "language-"); ok {
					return rest
				}
				if rest, ok := strings.CutPrefix(field, "lang-"); ok {
					return rest
				}
			}
		}
	}
	return ""
}

func attrVal(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}

func plainText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(cur.Data)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func findFirst(n *html.Node, tag string) *html.Node {
	var res *html.Node
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		if res != nil {
			return
		}
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, tag) {
			res = cur
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
			if res != nil {
				return
			}
		}
	}
	dfs(n)
	return res
}

// cloneSubtree deep-copies a node so extraction never mutates the parsed
// snapshot.
func cloneSubtree(n *html.Node) *html.Node {
	c := &html.Node{Type: n.Type, DataAtom: n.DataAtom, Data: n.Data, Namespace: n.Namespace}
	if len(n.Attr) > 0 {
		c.Attr = append([]html.Attribute(nil), n.Attr...)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneSubtree(child))
	}
	return c
}

// topLevelMatches filters out matches nested inside another match, so a
// container selector that also matches inner wrappers yields each turn pair
// exactly once.
func topLevelMatches(sel cascadia.Selector, root *html.Node) []*html.Node {
	matches := sel.MatchAll(root)
	if len(matches) <= 1 {
		return matches
	}
	set := make(map[*html.Node]bool, len(matches))
	for _, m := range matches {
		set[m] = true
	}
	out := matches[:0]
	for _, m := range matches {
		nested := false
		for p := m.Parent; p != nil; p = p.Parent {
			if set[p] {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, m)
		}
	}
	return out
}

func dedupe(nodes []*html.Node) []*html.Node {
	seen := make(map[*html.Node]bool, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// sortByDocumentOrder orders nodes by their position in a depth-first walk
// of the tree.
func sortByDocumentOrder(root *html.Node, nodes []*html.Node) {
	pos := make(map[*html.Node]int)
	i := 0
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		pos[cur] = i
		i++
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
		}
	}
	dfs(root)
	sort.SliceStable(nodes, func(a, b int) bool { return pos[nodes[a]] < pos[nodes[b]] })
}

// normalizeWhitespace collapses runs of spaces and blank lines outside
// fenced code regions; fenced bodies are preserved verbatim.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			out = append(out, trimmed)
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, collapseSpaces(trimmed))
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}
