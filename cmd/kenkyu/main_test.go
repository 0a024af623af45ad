package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/kenkyu/internal/config"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"attention mechanisms", "-threshold", "0.5"},
			expected: []string{"-threshold", "0.5", "attention mechanisms"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-threshold", "0.5", "attention mechanisms"},
			expected: []string{"-threshold", "0.5", "attention mechanisms"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"attention mechanisms"},
			expected: []string{"attention mechanisms"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "--limit", "5", "--hybrid"},
			expected: []string{"--limit", "5", "--hybrid", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"retrieval"}, "retrieval"},
		{"multiple words", []string{"vector", "index"}, "vector index"},
		{"single quoted phrase", []string{"vector index"}, "vector index"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestFilterFlag(t *testing.T) {
	f := filterFlag{}
	for _, arg := range []string{"title=notes.txt", "year=2024", "score=0.5", "draft=true", "expr=a=b"} {
		if err := f.Set(arg); err != nil {
			t.Fatalf("Set(%q): %v", arg, err)
		}
	}
	want := filterFlag{"title": "notes.txt", "year": int64(2024), "score": 0.5, "draft": true, "expr": "a=b"}
	if !reflect.DeepEqual(f, want) {
		t.Errorf("filter = %#v, want %#v", f, want)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if err := f.Set(bad); err == nil {
			t.Errorf("Set(%q) should fail", bad)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" .txt, .md,,.rst ")
	if want := []string{".txt", ".md", ".rst"}; !reflect.DeepEqual(got, want) {
		t.Errorf("splitList = %v, want %v", got, want)
	}
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvOpenAIAPIKey, "")

	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kenkyu.yaml")
		if err := os.WriteFile(path, []byte("vector:\n  collection: papers\n"), 0600); err != nil {
			t.Fatal(err)
		}
		cfg, resolved, err := loadConfig(path)
		if err != nil {
			t.Fatal(err)
		}
		if resolved != path || cfg.Vector.Collection != "papers" {
			t.Errorf("resolved=%q collection=%q", resolved, cfg.Vector.Collection)
		}
	})

	t.Run("missing explicit path", func(t *testing.T) {
		if _, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("expected error for a missing explicit config")
		}
	})

	t.Run("cwd fallback", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("vector:\n  engine: memory\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Chdir(dir)
		cfg, resolved, err := loadConfig(defaultConfigPath)
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Base(resolved) != "config.yaml" || cfg.Vector.Engine != "memory" {
			t.Errorf("resolved=%q engine=%q", resolved, cfg.Vector.Engine)
		}
	})

	t.Run("built-in defaults", func(t *testing.T) {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			t.Skip("a system config exists")
		}
		t.Chdir(t.TempDir())
		cfg, resolved, err := loadConfig(defaultConfigPath)
		if err != nil {
			t.Fatal(err)
		}
		if resolved != "" || cfg.Vector.Engine != "sqlite" || cfg.Embedding.Provider != config.ProviderMock {
			t.Errorf("resolved=%q vector=%+v provider=%q", resolved, cfg.Vector, cfg.Embedding.Provider)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("defaults should validate: %v", err)
		}
	})
}

func TestRunInit(t *testing.T) {
	t.Setenv(config.EnvOpenAIAPIKey, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := runInit([]string{path}); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vector.Collection != "research" || cfg.Server.Port != 8080 {
		t.Errorf("unexpected written config: %+v", cfg)
	}
	if err := runInit([]string{path}); err == nil {
		t.Error("init should refuse to overwrite without --force")
	}
	if err := runInit([]string{"--force", path}); err != nil {
		t.Errorf("init --force: %v", err)
	}
}
