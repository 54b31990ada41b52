package hlsengine

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotPlaylist is returned when the body does not start with #EXTM3U.
	ErrNotPlaylist = errors.New("not an m3u8 playlist")
	// ErrNoVariants is returned for a master playlist without any stream.
	ErrNoVariants = errors.New("master playlist has no variants")
)

// Variant is one rendition listed in a master playlist.
type Variant struct {
	URI        *url.URL
	Bandwidth  int64
	Resolution string
	Codecs     string
}

// MediaSegment is one #EXTINF entry of a media playlist.
type MediaSegment struct {
	Sequence int64
	Duration time.Duration
	URI      *url.URL
}

// MediaPlaylist is a parsed media playlist.
type MediaPlaylist struct {
	TargetDuration time.Duration
	MediaSequence  int64
	Segments       []MediaSegment
	// Ended is set by #EXT-X-ENDLIST or #EXT-X-PLAYLIST-TYPE:VOD.
	Ended bool
}

// Playlist is either a master or a media playlist; exactly one field is set.
type Playlist struct {
	Variants []Variant
	Media    *MediaPlaylist
}

// IsMaster reports whether the playlist lists variants.
func (p *Playlist) IsMaster() bool { return p.Media == nil }

// ParsePlaylist parses an m3u8 body. Relative URIs are resolved against base.
func ParsePlaylist(body string, base *url.URL) (*Playlist, error) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		sawHeader   bool
		master      bool
		variants    []Variant
		pending     *Variant
		media       = &MediaPlaylist{}
		nextDur     time.Duration
		haveExtinf  bool
		seq         int64
		seqAssigned bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != "#EXTM3U" {
				return nil, ErrNotPlaylist
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			master = true
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			v := Variant{Resolution: attrs["RESOLUTION"], Codecs: attrs["CODECS"]}
			if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
				v.Bandwidth = bw
			}
			pending = &v

		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			n, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid target duration %q: %w", line, err)
			}
			media.TargetDuration = time.Duration(n * float64(time.Second))

		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid media sequence %q: %w", line, err)
			}
			media.MediaSequence = n
			if !seqAssigned {
				seq = n
			}

		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"), line == "#EXT-X-ENDLIST":
			media.Ended = true

		case strings.HasPrefix(line, "#EXTINF:"):
			// Format: #EXTINF:10.000,<title>
			val := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(val, ','); i >= 0 {
				val = val[:i]
			}
			secs, err := strconv.ParseFloat(val, 64)
			if err != nil || secs < 0 || math.IsNaN(secs) {
				return nil, fmt.Errorf("invalid EXTINF %q", line)
			}
			nextDur = time.Duration(secs * float64(time.Second))
			haveExtinf = true

		case strings.HasPrefix(line, "#"):
			// Unhandled tag or comment.

		default:
			u, err := resolve(base, line)
			if err != nil {
				return nil, err
			}
			if pending != nil {
				pending.URI = u
				variants = append(variants, *pending)
				pending = nil
				continue
			}
			if !haveExtinf {
				continue
			}
			media.Segments = append(media.Segments, MediaSegment{Sequence: seq, Duration: nextDur, URI: u})
			seq++
			seqAssigned = true
			haveExtinf = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	if !sawHeader {
		return nil, ErrNotPlaylist
	}

	if master {
		if len(variants) == 0 {
			return nil, ErrNoVariants
		}
		return &Playlist{Variants: variants}, nil
	}
	if media.TargetDuration <= 0 {
		media.TargetDuration = targetDurationFromSegments(media.Segments)
	}
	return &Playlist{Media: media}, nil
}

// targetDurationFromSegments returns the ceiling of the longest segment, or
// one second for an empty playlist.
func targetDurationFromSegments(segments []MediaSegment) time.Duration {
	var max time.Duration
	for _, seg := range segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	if max <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(max.Seconds())) * time.Second
}

// parseAttributes splits an attribute list like BANDWIDTH=1280000,CODECS="a,b".
func parseAttributes(s string) map[string]string {
	out := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[:eq])
		s = s[eq+1:]

		var val string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				val, s = s[1:], ""
			} else {
				val, s = s[1:end+1], s[end+2:]
			}
		} else if comma := strings.IndexByte(s, ','); comma >= 0 {
			val, s = s[:comma], s[comma:]
		} else {
			val, s = s, ""
		}
		out[key] = val
		s = strings.TrimPrefix(s, ",")
	}
	return out
}

func resolve(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid uri %q: %w", ref, err)
	}
	if base == nil {
		return u, nil
	}
	return base.ResolveReference(u), nil
}
