package downloader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=640x360,CODECS="avc1.4d401e,mp4a.40.2"
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2"
high/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=960x540
https://other.example.com/mid/index.m3u8
`

func TestParseMasterPlaylist(t *testing.T) {
	pl, err := ParsePlaylist(masterPlaylist, "https://cdn.example.com/show/master.m3u8")
	require.NoError(t, err)

	assert.True(t, pl.Master)
	require.Len(t, pl.Variants, 3)
	assert.Empty(t, pl.Segments)

	assert.Equal(t, "https://cdn.example.com/show/low/index.m3u8", pl.Variants[0].URI)
	assert.Equal(t, "avc1.4d401e,mp4a.40.2", pl.Variants[0].Codecs)
	assert.Equal(t, "https://other.example.com/mid/index.m3u8", pl.Variants[2].URI)

	best, ok := pl.BestVariant()
	require.True(t, ok)
	assert.Equal(t, int64(1200000), best.Bandwidth)
	assert.Equal(t, "1280x720", best.Resolution)
}

func TestBestVariantTieKeepsFirst(t *testing.T) {
	pl := &Playlist{Variants: []Variant{
		{URI: "a", Bandwidth: 900},
		{URI: "b", Bandwidth: 900},
		{URI: "c", Bandwidth: 100},
	}}

	best, ok := pl.BestVariant()
	require.True(t, ok)
	assert.Equal(t, "a", best.URI)

	_, ok = (&Playlist{}).BestVariant()
	assert.False(t, ok)
}

func TestParseMediaPlaylist(t *testing.T) {
	content := `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MAP:URI="init.mp4"
#EXT-X-KEY:METHOD=NONE
#EXTINF:6.0,
seg0.m4s
#EXTINF:6.0,
seg1.m4s?token=abc
#EXTINF:4.5,title
/abs/seg2.m4s
#EXT-X-ENDLIST
`
	pl, err := ParsePlaylist(content, "https://cdn.example.com/show/high/index.m3u8")
	require.NoError(t, err)

	assert.False(t, pl.Master)
	assert.False(t, pl.Encrypted())
	assert.Equal(t, "https://cdn.example.com/show/high/init.mp4", pl.InitSegment)
	assert.Equal(t, []string{
		"https://cdn.example.com/show/high/seg0.m4s",
		"https://cdn.example.com/show/high/seg1.m4s?token=abc",
		"https://cdn.example.com/abs/seg2.m4s",
	}, pl.Segments)
	assert.Equal(t, 16500*time.Millisecond, pl.Duration)
}

func TestParseEncryptedPlaylist(t *testing.T) {
	content := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example.com/k1",IV=0x1234
#EXTINF:6.0,
seg0.ts
`
	pl, err := ParsePlaylist(content, "https://cdn.example.com/index.m3u8")
	require.NoError(t, err)

	assert.True(t, pl.Encrypted())
	assert.Equal(t, "AES-128", pl.EncryptionMethod)
}

func TestParseSegmentKeyMarksEncrypted(t *testing.T) {
	content := `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
seg0.ts
#EXT-X-KEY:METHOD=SAMPLE-AES,URI="https://keys.example.com/k2"
#EXTINF:6.0,
seg1.ts
#EXT-X-ENDLIST
`
	pl, err := ParsePlaylist(content, "https://cdn.example.com/index.m3u8")
	require.NoError(t, err)

	assert.Len(t, pl.Segments, 2)
	assert.True(t, pl.Encrypted())
	assert.Equal(t, "SAMPLE-AES", pl.EncryptionMethod)
}

func TestParsePlaylistRejectsNonPlaylist(t *testing.T) {
	_, err := ParsePlaylist("<html>not found</html>", "https://cdn.example.com/index.m3u8")
	assert.Error(t, err)
}

func TestParsePlaylistInvalidBase(t *testing.T) {
	_, err := ParsePlaylist("#EXTM3U\n", "://bad")
	assert.Error(t, err)
}
