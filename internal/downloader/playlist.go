package downloader

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"
)

// Variant is one rendition listed in a master playlist.
type Variant struct {
	URI        string
	Bandwidth  int64
	Resolution string
	Codecs     string
}

// Playlist is a parsed HLS playlist. A master playlist carries Variants; a
// media playlist carries Segments.
type Playlist struct {
	Master   bool
	Variants []Variant
	// InitSegment is the #EXT-X-MAP URI for fragmented MP4 streams.
	InitSegment string
	Segments    []string
	Duration    time.Duration
	// EncryptionMethod is the first #EXT-X-KEY method other than NONE.
	EncryptionMethod string
}

// Encrypted reports whether the playlist declares segment encryption.
func (p *Playlist) Encrypted() bool {
	return p.EncryptionMethod != ""
}

// ParsePlaylist parses content fetched from base. Relative URIs are resolved
// against base.
func ParsePlaylist(content, base string) (*Playlist, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid playlist URL %q: %w", base, err)
	}

	decoded, listType, err := m3u8.DecodeFrom(strings.NewReader(content), false)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist: %w", err)
	}

	pl := &Playlist{}
	switch listType {
	case m3u8.MASTER:
		master, ok := decoded.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, fmt.Errorf("failed to parse playlist: unexpected type %T", decoded)
		}
		pl.Master = true
		for _, v := range master.Variants {
			if v == nil || v.URI == "" {
				continue
			}
			pl.Variants = append(pl.Variants, Variant{
				URI:        resolve(baseURL, v.URI),
				Bandwidth:  int64(v.Bandwidth),
				Resolution: v.Resolution,
				Codecs:     v.Codecs,
			})
		}

	case m3u8.MEDIA:
		media, ok := decoded.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, fmt.Errorf("failed to parse playlist: unexpected type %T", decoded)
		}
		pl.noteKeys(media.Keys)
		if media.Map != nil && media.Map.URI != "" {
			pl.InitSegment = resolve(baseURL, media.Map.URI)
		}
		// Segments is backed by a ring buffer; unused slots are nil.
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			pl.noteKeys(seg.Keys)
			if pl.InitSegment == "" && seg.Map != nil && seg.Map.URI != "" {
				pl.InitSegment = resolve(baseURL, seg.Map.URI)
			}
			pl.Segments = append(pl.Segments, resolve(baseURL, seg.URI))
			pl.Duration += time.Duration(seg.Duration * float64(time.Second))
		}
	}

	return pl, nil
}

func (p *Playlist) noteKeys(keys []m3u8.Key) {
	for _, k := range keys {
		method := strings.ToUpper(k.Method)
		if method != "" && method != "NONE" && p.EncryptionMethod == "" {
			p.EncryptionMethod = method
		}
	}
}

// BestVariant returns the variant with the strictly highest bandwidth. On a
// tie the first listed variant wins.
func (p *Playlist) BestVariant() (Variant, bool) {
	if len(p.Variants) == 0 {
		return Variant{}, false
	}
	best := p.Variants[0]
	for _, v := range p.Variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, true
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
