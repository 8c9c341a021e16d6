package models

import (
	"strings"
	"testing"
	"time"
)

func TestArticle_Permalink(t *testing.T) {
	a := Article{Key: KeyFor("/2008/09/hello-world/")}
	if a.Key != "/2008/09/hello-world" {
		t.Fatalf("KeyFor() = %q", a.Key)
	}
	if got := a.Permalink(); got != "2008/09/hello-world" {
		t.Errorf("Permalink() = %q", got)
	}
	if got := a.FullPermalink("http://example.com/"); got != "http://example.com/2008/09/hello-world" {
		t.Errorf("FullPermalink() = %q", got)
	}
}

func TestArticle_RFC3339(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	a := Article{
		Published: time.Date(2008, 9, 1, 10, 0, 0, 0, loc),
		Updated:   time.Date(2008, 9, 2, 23, 30, 5, 0, time.UTC),
	}
	if got := a.RFC3339Published(); got != "2008-09-01T13:00:00Z" {
		t.Errorf("RFC3339Published() = %q", got)
	}
	if got := a.RFC3339Updated(); got != "2008-09-02T23:30:05Z" {
		t.Errorf("RFC3339Updated() = %q", got)
	}
}

func TestArticle_IsBig(t *testing.T) {
	tests := []struct {
		name    string
		article Article
		want    bool
	}{
		{"short", Article{HTML: "<p>hi</p>"}, false},
		{"long html", Article{HTML: strings.Repeat("x", 2001)}, true},
		{"many comments", Article{HTML: "<p>hi</p>", NumComments: 30}, true},
		{"embedded code", Article{HTML: "<p>hi</p>", EmbeddedCode: []string{"python"}}, true},
		{"image", Article{HTML: `<img src="a.png">`}, true},
		{"code", Article{HTML: "<code>x</code>"}, true},
		{"pre", Article{HTML: "<pre>x</pre>"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.article.IsBig(); got != tt.want {
				t.Errorf("IsBig() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArticle_AtomXML(t *testing.T) {
	a := Article{HTML: "Tom &amp; Jerry & friends &copy;"}
	want := "Tom &amp; Jerry &amp; friends &amp;copy;"
	if got := a.AtomXML(); got != want {
		t.Errorf("AtomXML() = %q, want %q", got, want)
	}
}

func TestArticle_AssociatedData(t *testing.T) {
	var a Article
	links := map[string][]string{"sidelinks": {"http://a", "http://b"}}
	if err := a.SetAssociatedData(links); err != nil {
		t.Fatalf("SetAssociatedData: %v", err)
	}
	var got map[string][]string
	if err := a.AssociatedData(&got); err != nil {
		t.Fatalf("AssociatedData: %v", err)
	}
	if len(got["sidelinks"]) != 2 || got["sidelinks"][1] != "http://b" {
		t.Errorf("AssociatedData() = %v", got)
	}

	var empty Article
	untouched := map[string]int{"x": 1}
	if err := empty.AssociatedData(&untouched); err != nil || untouched["x"] != 1 {
		t.Errorf("empty blob should leave dst untouched, got %v err %v", untouched, err)
	}
}

func TestArticle_CommentsOpen(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	yes, no := true, false
	tests := []struct {
		name    string
		article Article
		want    bool
	}{
		{"recent", Article{Published: now.AddDate(0, 0, -10)}, true},
		{"old", Article{Published: now.AddDate(0, 0, -61)}, false},
		{"old but allowed", Article{Published: now.AddDate(-1, 0, 0), AllowComments: &yes}, true},
		{"recent but closed", Article{Published: now, AllowComments: &no}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.article.CommentsOpen(now, 60); got != tt.want {
				t.Errorf("CommentsOpen() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizedTags(t *testing.T) {
	got := NormalizedTags([]string{" Go ", "python,go", "", "Rails"})
	want := []string{"go", "python", "rails"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("NormalizedTags() = %v, want %v", got, want)
	}
}
