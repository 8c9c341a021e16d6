package models

import (
	"strings"
	"time"
)

// NavLink is an entry of the top navigation or of a featured-pages box.
type NavLink struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	URL         string `json:"url" yaml:"url"`
}

// FeaturedPages is the sidebar box listing other pages of the author.
type FeaturedPages struct {
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	Entries     []NavLink `json:"entries" yaml:"entries"`
}

// AuthorInfo maps a login email to the display name and nick of an author.
type AuthorInfo struct {
	Name string `json:"name" yaml:"name"`
	Nick string `json:"nick" yaml:"nick"`
}

// BloogConfig holds the blog settings and the infrastructure settings of
// the server. It is loaded from the `bloog` key of config.yaml.
type BloogConfig struct {
	Version       string `json:"bloog_version"`
	HTMLType      string `json:"html_type"`
	Charset       string `json:"charset"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Email         string `json:"email"`
	Description   string `json:"description"`
	RootURL       string `json:"root_url"`
	MasterAtomURL string `json:"master_atom_url"`

	// Visitors can comment on an article for this many days unless the
	// article sets AllowComments explicitly.
	DaysCanComment int `json:"days_can_comment"`
	// CacheTime is the page cache lifetime in seconds. nil means 0 in debug
	// and an hour otherwise.
	CacheTime               *int                  `json:"cache_time"`
	Theme                   []string              `json:"theme"`
	UseGravatars            bool                  `json:"use_gravatars"`
	SendCommentNotification bool                  `json:"send_comment_notification"`
	LegacyBlogSoftware      string                `json:"legacy_blog_software"`
	LegacyEntryRedirect     bool                  `json:"legacy_entry_redirect"`
	ArticlesPerPage         int                   `json:"articles_per_page"`
	NavLinks                []NavLink             `json:"navlinks"`
	FeaturedPages           FeaturedPages         `json:"featured_pages"`
	Authors                 map[string]AuthorInfo `json:"authors"`

	// TrustedProxies lists the proxy addresses or CIDRs whose
	// X-Forwarded-For is believed. Empty means the peer address is the
	// client.
	TrustedProxies []string `json:"trusted_proxies"`

	IsDebug       bool   `json:"debug"`
	Port          string `json:"port"`
	DatabasePath  string `json:"database_path"`
	TemplateDir   string `json:"template_dir"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	// CacheMaxEntries bounds the in-process cache used without redis.
	CacheMaxEntries int `json:"cache_max_entries"`

	AdminKey          string `json:"admin_key"`
	AdminUser         string `json:"admin_user"`
	AdminPasswordHash string `json:"admin_password_hash"`
	JWTKey            string `json:"jwt_key"`

	SMTPAddr     string `json:"smtp_addr"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`
	SMTPFrom     string `json:"smtp_from"`

	CommentRatePerMinute float64 `json:"comment_rate_per_minute"`
	CommentBurst         int     `json:"comment_burst"`

	LogSamplingTickMs  int `json:"log_sampling_tick_ms"`
	LogSamplingAfterMs int `json:"log_sampling_after_ms"`

	OtelEnabled     bool    `json:"otel_enabled"`
	OtelEndpoint    string  `json:"otel_endpoint"`
	OtelInsecure    bool    `json:"otel_insecure"`
	OtelServiceName string  `json:"otel_service_name"`
	OtelSampleRate  float64 `json:"otel_sample_rate"`
}

// Defaults fills every unset field with the stock Bloog value.
func (c *BloogConfig) Defaults() {
	if c.Version == "" {
		c.Version = "0.8"
	}
	if c.HTMLType == "" {
		c.HTMLType = "text/html"
	}
	if c.Charset == "" {
		c.Charset = "utf-8"
	}
	if c.Title == "" {
		c.Title = "Bloog"
	}
	if c.MasterAtomURL == "" {
		c.MasterAtomURL = "/feeds/atom.xml"
	}
	if c.DaysCanComment == 0 {
		c.DaysCanComment = 60
	}
	if c.CacheTime == nil {
		v := 3600
		if c.IsDebug {
			v = 0
		}
		c.CacheTime = &v
	}
	if len(c.Theme) == 0 {
		c.Theme = []string{"default"}
	}
	if c.ArticlesPerPage <= 0 {
		c.ArticlesPerPage = 5
	}
	c.RootURL = strings.TrimSuffix(c.RootURL, "/")
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "bloog.db"
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = 10000
	}
	if c.CommentRatePerMinute <= 0 {
		c.CommentRatePerMinute = 6
	}
	if c.CommentBurst <= 0 {
		c.CommentBurst = 3
	}
	if c.OtelServiceName == "" {
		c.OtelServiceName = "bloog"
	}
}

// CacheDuration is CacheTime as a duration.
func (c BloogConfig) CacheDuration() time.Duration {
	if c.CacheTime == nil || *c.CacheTime <= 0 {
		return 0
	}
	return time.Duration(*c.CacheTime) * time.Second
}

// ThemeName is the first configured theme.
func (c BloogConfig) ThemeName() string {
	if len(c.Theme) == 0 || c.Theme[0] == "" {
		return "default"
	}
	return c.Theme[0]
}

// AuthorFor resolves the display name and nick configured for email.
func (c BloogConfig) AuthorFor(email string) (AuthorInfo, bool) {
	info, ok := c.Authors[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		for k, v := range c.Authors {
			if strings.EqualFold(k, email) {
				return v, true
			}
		}
	}
	return info, ok
}
