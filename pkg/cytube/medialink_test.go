package cytube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMediaURLProviders(t *testing.T) {
	cases := []struct {
		url  string
		want MediaLink
	}{
		{"https://youtu.be/dQw4w9WgXcQ", MediaLink{"yt", "dQw4w9WgXcQ"}},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", MediaLink{"yt", "dQw4w9WgXcQ"}},
		{"https://www.youtube.com/watch?feature=player_embedded&v=dQw4w9WgXcQ", MediaLink{"yt", "dQw4w9WgXcQ"}},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", MediaLink{"yt", "dQw4w9WgXcQ"}},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ#t=10s", MediaLink{"yt", "dQw4w9WgXcQ"}},
		{"https://www.youtube.com/playlist?list=PLabc123", MediaLink{"yp", "PLabc123"}},
		{"https://twitch.tv/somestreamer", MediaLink{"tw", "somestreamer"}},
		{"https://clips.twitch.tv/FunnyClipName", MediaLink{"tc", "FunnyClipName"}},
		{"https://www.twitch.tv/videos/123456789", MediaLink{"tv", "v123456789"}},
		{"https://vimeo.com/12345678", MediaLink{"vi", "12345678"}},
		{"https://www.dailymotion.com/video/x7tgad0", MediaLink{"dm", "x7tgad0"}},
		{"https://soundcloud.com/artist-name/track-name", MediaLink{"sc", "https://soundcloud.com/artist-name/track-name"}},
		{"https://drive.google.com/file/d/FILEID123/view", MediaLink{"gd", "FILEID123"}},
		{"https://docs.google.com/file/d/FILEID123/edit", MediaLink{"gd", "FILEID123"}},
		{"https://drive.google.com/open?id=FILEID123", MediaLink{"gd", "FILEID123"}},
		{"https://imgur.com/a/albumid", MediaLink{"im", "albumid"}},
		{"https://streamable.com/abc12", MediaLink{"sb", "abc12"}},
		{"https://vid.me/abcde", MediaLink{"vm", "abcde"}},
		{"https://livestream.com/accountname", MediaLink{"li", "accountname"}},
		{"https://www.ustream.tv/channelname", MediaLink{"us", "channelname"}},
		{"https://www.hitbox.tv/streamer", MediaLink{"hb", "streamer"}},
		{"https://www.smashcast.tv/streamer", MediaLink{"hb", "streamer"}},
		{"https://example.com/video.mp4", MediaLink{"fi", "https://example.com/video.mp4"}},
		{"https://example.com/audio.mp3", MediaLink{"fi", "https://example.com/audio.mp3"}},
		{"https://example.com/stream.m3u8", MediaLink{"hl", "https://example.com/stream.m3u8"}},
		{"rtmp://example.com/live/stream", MediaLink{"rt", "rtmp://example.com/live/stream"}},
		{"https://example.com/custom.json", MediaLink{"cm", "https://example.com/custom.json"}},
		{"yt:dQw4w9WgXcQ", MediaLink{"yt", "dQw4w9WgXcQ"}},
		{"fi:https://example.com/video.mp4", MediaLink{"fi", "https://example.com/video.mp4"}},
	}
	for _, tc := range cases {
		got, err := ParseMediaURL(tc.url)
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.want, got, tc.url)
	}
}

func TestParseMediaURLErrors(t *testing.T) {
	t.Run("plain http file", func(t *testing.T) {
		_, err := ParseMediaURL("http://example.com/video.mp4")
		require.ErrorIs(t, err, ErrChannel)
		assert.Contains(t, err.Error(), `must begin with "https"`)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := ParseMediaURL("https://example.com/video.wmv")
		require.ErrorIs(t, err, ErrChannel)
		assert.Contains(t, err.Error(), "does not match the supported file extensions")
	})

	t.Run("not a url", func(t *testing.T) {
		_, err := ParseMediaURL("certainly not media")
		assert.ErrorIs(t, err, ErrChannel)
	})
}

func TestMediaLinkURL(t *testing.T) {
	cases := []struct {
		link MediaLink
		want string
	}{
		{MediaLink{"yt", "dQw4w9WgXcQ"}, "https://youtube.com/watch?v=dQw4w9WgXcQ"},
		{MediaLink{"yp", "PLabc123"}, "https://youtube.com/playlist?list=PLabc123"},
		{MediaLink{"tw", "streamer"}, "https://twitch.tv/streamer"},
		{MediaLink{"tc", "ClipName"}, "https://clips.twitch.tv/ClipName"},
		{MediaLink{"tv", "v123456789"}, "https://twitch.tv/videos/123456789"},
		{MediaLink{"vi", "12345678"}, "https://vimeo.com/12345678"},
		{MediaLink{"dm", "x7tgad0"}, "https://dailymotion.com/video/x7tgad0"},
		{MediaLink{"sc", "artist/track-name"}, "https://soundcloud.com/artist/track-name"},
		{MediaLink{"sc", "https://soundcloud.com/artist/track"}, "https://soundcloud.com/artist/track"},
		{MediaLink{"gd", "FILEID123"}, "https://drive.google.com/file/d/FILEID123"},
		{MediaLink{"fi", "https://example.com/video.mp4"}, "https://example.com/video.mp4"},
		{MediaLink{"rt", "rtmp://example.com/live"}, "rtmp://example.com/live"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.link.URL(), tc.link.String())
	}
}

func TestMediaLinkURLUnknownType(t *testing.T) {
	assert.Equal(t, "zz:whatever", MediaLink{"zz", "whatever"}.URL())
}

func TestMediaLinkRoundTrip(t *testing.T) {
	for _, url := range []string{
		"https://youtube.com/watch?v=dQw4w9WgXcQ",
		"https://twitch.tv/streamer",
		"https://vimeo.com/12345678",
		"https://example.com/video.mp4",
	} {
		link, err := ParseMediaURL(url)
		require.NoError(t, err, url)
		assert.Equal(t, url, link.URL(), url)
	}
}
