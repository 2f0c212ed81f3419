package selectors

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_Compiles(t *testing.T) {
	if _, err := Default().Compile(); err != nil {
		t.Fatalf("default registry must compile: %v", err)
	}
}

func TestLoad_MissingPathKeepsDefaults(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg != Default() {
		t.Fatalf("expected defaults when no file is given")
	}
}

func TestLoad_OverridesOnlyPresentRoles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	content := "userSection: '.msg-user'\nassistantSection: '.msg-assistant'\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reg.UserSection != ".msg-user" || reg.AssistantSection != ".msg-assistant" {
		t.Fatalf("expected overridden roles, got %q / %q", reg.UserSection, reg.AssistantSection)
	}
	if reg.ScrollRegion != Default().ScrollRegion {
		t.Fatalf("roles absent from the file must keep defaults")
	}
}

func TestCompile_BadSelectorNamesRole(t *testing.T) {
	reg := Default()
	reg.TurnContainer = "[[["
	if _, err := reg.Compile(); err == nil {
		t.Fatalf("expected compile error for malformed selector")
	} else if got := err.Error(); !contains(got, "turnContainer") {
		t.Fatalf("error should name the broken role, got %q", got)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
