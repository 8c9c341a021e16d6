package models

import (
	"sort"
	"strings"
	"testing"
)

func TestCommentThreadOrdering(t *testing.T) {
	first := ChildThread("", 1)
	second := ChildThread("", 2)
	reply := ChildThread(first, 3)
	replyToReply := ChildThread(reply, 12)
	late := ChildThread(first, 10)

	threads := []string{second, late, replyToReply, first, reply}
	sort.Strings(threads)
	want := []string{first, reply, replyToReply, late, second}
	if strings.Join(threads, " ") != strings.Join(want, " ") {
		t.Fatalf("sorted threads = %v, want %v", threads, want)
	}
}

func TestComment_Indentation(t *testing.T) {
	tests := []struct {
		thread     string
		wantIndent int
		wantParent int
	}{
		{"000001", 1, 0},
		{"000001.000003", 2, 1},
		{"000001.000003.000012", 3, 3},
		{"", 1, 0},
	}
	for _, tt := range tests {
		c := Comment{Thread: tt.thread}
		if got := c.Indentation(); got != tt.wantIndent {
			t.Errorf("Indentation(%q) = %d, want %d", tt.thread, got, tt.wantIndent)
		}
		if got := c.ParentCommentID(); got != tt.wantParent {
			t.Errorf("ParentCommentID(%q) = %d, want %d", tt.thread, got, tt.wantParent)
		}
	}
}

func TestGravatarURL(t *testing.T) {
	got := GravatarURL("  MyEmailAddress@example.com ", 40)
	want := "https://www.gravatar.com/avatar/0bc83cb571cd1c50ba6f3e8a78ef1346?d=identicon&s=40"
	if got != want {
		t.Errorf("GravatarURL() = %q, want %q", got, want)
	}
}

func TestLegacyComment_ParentThread(t *testing.T) {
	tests := map[string]string{
		"1":     "",
		"1.2":   "1",
		"1.2.1": "1.2",
		"10.11": "10",
	}
	for thread, want := range tests {
		if got := (LegacyComment{Thread: thread}).ParentThread(); got != want {
			t.Errorf("ParentThread(%q) = %q, want %q", thread, got, want)
		}
	}
}

func TestYearKey(t *testing.T) {
	if got := YearKey(2008); got != "Y2008" {
		t.Fatalf("YearKey() = %q", got)
	}
	if got := (Year{Key: "Y2008"}).Value(); got != "2008" {
		t.Fatalf("Value() = %q", got)
	}
}

func TestBloogConfig_Defaults(t *testing.T) {
	var cfg BloogConfig
	cfg.Defaults()
	if *cfg.CacheTime != 3600 {
		t.Errorf("CacheTime = %d, want 3600", *cfg.CacheTime)
	}
	if cfg.ArticlesPerPage != 5 || cfg.DaysCanComment != 60 || cfg.CacheMaxEntries != 10000 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ThemeName() != "default" {
		t.Errorf("ThemeName() = %q", cfg.ThemeName())
	}

	debug := BloogConfig{IsDebug: true, RootURL: "http://example.com/"}
	debug.Defaults()
	if debug.CacheDuration() != 0 {
		t.Errorf("debug CacheDuration() = %v, want 0", debug.CacheDuration())
	}
	if debug.RootURL != "http://example.com" {
		t.Errorf("RootURL = %q", debug.RootURL)
	}
}

func TestBloogConfig_AuthorFor(t *testing.T) {
	cfg := BloogConfig{Authors: map[string]AuthorInfo{
		"Owner@Example.com": {Name: "Owner", Nick: "owner"},
	}}
	info, ok := cfg.AuthorFor("owner@example.com")
	if !ok || info.Nick != "owner" {
		t.Fatalf("AuthorFor() = %+v, %v", info, ok)
	}
	if _, ok := cfg.AuthorFor("nobody@example.com"); ok {
		t.Fatalf("AuthorFor() found an unknown author")
	}
}

func TestValidateStruct(t *testing.T) {
	valid := ArticleFields{Title: "t", ArticleType: TypeBlogEntry, Format: FormatMarkdown, Body: "b", Permalink: "2008/09/t"}
	if err := ValidateStruct(&valid); err != nil {
		t.Fatalf("valid article rejected: %v", err)
	}

	tests := []struct {
		name  string
		mut   func(*ArticleFields)
		field string
	}{
		{"bad type", func(a *ArticleFields) { a.ArticleType = "page" }, "article_type"},
		{"bad format", func(a *ArticleFields) { a.Format = "rst" }, "format"},
		{"missing body", func(a *ArticleFields) { a.Body = "" }, "body"},
		{"bad permalink", func(a *ArticleFields) { a.Permalink = "../etc/passwd" }, "permalink"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mut(&a)
			err := ValidationError(ValidateStruct(&a))
			if err == nil {
				t.Fatalf("expected a validation error")
			}
			if _, ok := err.Fields[tt.field]; !ok {
				t.Fatalf("expected field %q in %v", tt.field, err.Fields)
			}
		})
	}
}
