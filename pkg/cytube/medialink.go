package cytube

import (
	"fmt"
	"regexp"
	"strings"
)

// MediaLink is the provider-qualified media reference the server uses
// in playlist payloads: a two-letter type code plus a provider id. For
// raw file, stream and manifest types the id is the full URL.
type MediaLink struct {
	Type string
	ID   string
}

// String renders the compact "type:id" form accepted back by
// ParseMediaURL.
func (m MediaLink) String() string {
	return m.Type + ":" + m.ID
}

type urlRule struct {
	re  *regexp.Regexp
	typ string
	// id transforms the capture into the stored id; nil keeps it as is.
	id func(string) string
}

var urlRules = []urlRule{
	{re: regexp.MustCompile(`youtu\.be/([^?&#/]+)`), typ: "yt"},
	{re: regexp.MustCompile(`youtube\.com/watch\?(?:.*&)?v=([^?&#]+)`), typ: "yt"},
	{re: regexp.MustCompile(`youtube\.com/playlist\?(?:.*&)?list=([^?&#]+)`), typ: "yp"},
	{re: regexp.MustCompile(`clips\.twitch\.tv/([A-Za-z0-9_-]+)`), typ: "tc"},
	{re: regexp.MustCompile(`twitch\.tv/videos/(\d+)`), typ: "tv",
		id: func(s string) string { return "v" + s }},
	{re: regexp.MustCompile(`twitch\.tv/([A-Za-z0-9_]+)`), typ: "tw"},
	{re: regexp.MustCompile(`livestream\.com/([^?&#/]+)`), typ: "li"},
	{re: regexp.MustCompile(`ustream\.tv/([^?&#/]+)`), typ: "us"},
	{re: regexp.MustCompile(`(?:hitbox|smashcast)\.tv/([^?&#/]+)`), typ: "hb"},
	{re: regexp.MustCompile(`vimeo\.com/([^?&#/]+)`), typ: "vi"},
	{re: regexp.MustCompile(`dailymotion\.com/video/([a-zA-Z0-9]+)`), typ: "dm"},
	{re: regexp.MustCompile(`^(https?://(?:www\.)?soundcloud\.com/.+)$`), typ: "sc"},
	{re: regexp.MustCompile(`(?:drive|docs)\.google\.com/file/d/([^?&#/]+)`), typ: "gd"},
	{re: regexp.MustCompile(`drive\.google\.com/open\?(?:.*&)?id=([^?&#]+)`), typ: "gd"},
	{re: regexp.MustCompile(`imgur\.com/a/([^?&#/]+)`), typ: "im"},
	{re: regexp.MustCompile(`streamable\.com/([^?&#/]+)`), typ: "sb"},
	{re: regexp.MustCompile(`vid\.me/(?:e/)?([^?&#/]+)`), typ: "vm"},
	{re: regexp.MustCompile(`^(rtmp://.+)$`), typ: "rt"},
	{re: regexp.MustCompile(`^(https://[^?#]+\.m3u8)(?:[?#].*)?$`), typ: "hl"},
	{re: regexp.MustCompile(`^(https://[^?#]+\.json)(?:[?#].*)?$`), typ: "cm"},
	{re: regexp.MustCompile(`^(https://[^?#]+\.(?:mp4|webm|ogg|ogv|mp3|m4a|flv|mov))(?:[?#].*)?$`), typ: "fi"},
	// Compact "type:id" form, as stored in playlists.
	{re: regexp.MustCompile(`^([a-z]{2}):(.+)$`), typ: ""},
}

var urlFormats = map[string]string{
	"yt": "https://youtube.com/watch?v=%s",
	"yp": "https://youtube.com/playlist?list=%s",
	"tw": "https://twitch.tv/%s",
	"tc": "https://clips.twitch.tv/%s",
	"tv": "https://twitch.tv/videos/%s",
	"vi": "https://vimeo.com/%s",
	"dm": "https://dailymotion.com/video/%s",
	"sc": "https://soundcloud.com/%s",
	"gd": "https://drive.google.com/file/d/%s",
	"im": "https://imgur.com/a/%s",
	"sb": "https://streamable.com/%s",
	"vm": "https://vid.me/%s",
	"li": "https://livestream.com/%s",
	"us": "https://ustream.tv/%s",
	"hb": "https://hitbox.tv/%s",
	"fi": "%s",
	"hl": "%s",
	"rt": "%s",
	"cm": "%s",
}

// ParseMediaURL recognizes a provider URL or a compact "type:id"
// reference and returns its media link. Unrecognized https URLs fail
// on the file extension; plain http is rejected outright because the
// player embeds raw media over TLS only.
func ParseMediaURL(rawURL string) (MediaLink, error) {
	rawURL = strings.TrimSpace(rawURL)
	for _, rule := range urlRules {
		m := rule.re.FindStringSubmatch(rawURL)
		if m == nil {
			continue
		}
		if rule.typ == "" {
			return MediaLink{Type: m[1], ID: m[2]}, nil
		}
		id := m[1]
		if rule.id != nil {
			id = rule.id(id)
		}
		return MediaLink{Type: rule.typ, ID: id}, nil
	}
	if strings.HasPrefix(rawURL, "http://") {
		return MediaLink{}, fmt.Errorf(`%w: raw file URL must begin with "https"`, ErrChannel)
	}
	if strings.HasPrefix(rawURL, "https://") {
		return MediaLink{}, fmt.Errorf("%w: %q does not match the supported file extensions", ErrChannel, rawURL)
	}
	return MediaLink{}, fmt.Errorf("%w: unrecognized media URL %q", ErrChannel, rawURL)
}

// URL renders the canonical watch URL for the link. Types without a
// known format fall back to the compact form.
func (m MediaLink) URL() string {
	format, ok := urlFormats[m.Type]
	if !ok {
		return m.String()
	}
	id := m.ID
	switch m.Type {
	case "tv":
		id = strings.TrimPrefix(id, "v")
	case "sc":
		if strings.HasPrefix(id, "http") {
			return id
		}
	}
	return fmt.Sprintf(format, id)
}
