// Package playlist renders HLS manifests. Every function here is pure: the
// caller owns window maintenance and ordering, nothing is sorted or trimmed.
package playlist

import (
	"fmt"
	"math"
	"strings"

	"mirrorcast/internal/segment"
)

// Config holds the rendering parameters of one stream.
type Config struct {
	TargetSegmentDuration float64
	PlaylistLength        int
	SegmentDirectory      string
	BaseURL               string
}

// Variant is one rendition advertised by the master playlist.
type Variant struct {
	Bandwidth    int     `yaml:"bandwidth" json:"bandwidth"`
	Width        int     `yaml:"width" json:"width"`
	Height       int     `yaml:"height" json:"height"`
	FrameRate    float64 `yaml:"frame_rate" json:"frame_rate"`
	PlaylistPath string  `yaml:"playlist" json:"playlist"`
}

type playlistType string

const (
	typeNone  playlistType = ""
	typeEvent playlistType = "EVENT"
	typeVOD   playlistType = "VOD"
)

// Master renders a master playlist listing variants in input order.
func Master(variants []Variant) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", v.Bandwidth, v.Width, v.Height)
		b.WriteString(v.PlaylistPath)
		b.WriteString("\n")
	}
	return b.String()
}

// Media renders a live sliding-window playlist.
func Media(segments []segment.Segment, cfg Config) string {
	return render(segments, cfg, typeNone)
}

// Event renders an append-only event playlist.
func Event(segments []segment.Segment, cfg Config) string {
	return render(segments, cfg, typeEvent)
}

// VOD renders a complete playlist terminated by #EXT-X-ENDLIST.
func VOD(segments []segment.Segment, cfg Config) string {
	return render(segments, cfg, typeVOD)
}

func render(segments []segment.Segment, cfg Config, kind playlistType) string {
	var b strings.Builder

	var mediaSequence uint64
	if len(segments) > 0 {
		mediaSequence = segments[0].Sequence
	}

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", TargetDuration(segments, cfg.TargetSegmentDuration))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence)
	if kind != typeNone {
		fmt.Fprintf(&b, "#EXT-X-PLAYLIST-TYPE:%s\n", kind)
	}

	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		b.WriteString(SegmentURL(cfg.BaseURL, seg.FilePath))
		b.WriteString("\n")
	}

	if kind == typeVOD {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// SegmentURL joins base and path with a single slash; an empty base leaves
// the path relative.
func SegmentURL(base, path string) string {
	if base == "" {
		return path
	}
	return base + "/" + path
}

// TargetDuration returns the #EXT-X-TARGETDURATION value: the configured
// target rounded up, raised to cover any segment whose rounded duration
// exceeds it. Never less than 1.
func TargetDuration(segments []segment.Segment, target float64) int {
	td := int(math.Ceil(target))
	for _, seg := range segments {
		if d := int(math.Round(seg.Duration)); d > td {
			td = d
		}
	}
	if td < 1 {
		return 1
	}
	return td
}
