// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package importer

import (
	"regexp"
	"strings"

	"github.com/moistari/rls"
)

// Noise stripped from staged names before metadata lookup.
var noisePatterns = []*regexp.Regexp{
	// Bracketed release-group and fansub tags.
	regexp.MustCompile(`\[[^\[\]]*\]`),
	regexp.MustCompile(`\([^()]*(?:1080p|720p|2160p|480p|x264|x265|h\.?264|h\.?265|hevc|bluray|web-?dl|web-?rip)[^()]*\)`),
	// Resolution, source, codec and audio tokens.
	regexp.MustCompile(`(?i)\b(2160p|1080p|720p|480p|4k|uhd|hdr10?|dolby ?vision|dv)\b`),
	regexp.MustCompile(`(?i)\b(blu-?ray|bd-?rip|br-?rip|web-?dl|web-?rip|hdtv|dvdrip|remux|proper|repack|internal|limited|extended|uncut)\b`),
	regexp.MustCompile(`(?i)\b(x264|x265|h\.?264|h\.?265|hevc|avc|xvid|divx|10bit|8bit)\b`),
	regexp.MustCompile(`(?i)\b(aac(2\.0|5\.1)?|ac-?3|e-?ac-?3|dts(-?hd)?(\.?ma)?|truehd|atmos|flac|mp3|dd[p+]?[257]?\.?[01]?)\b`),
	// Trailing scene group after the last dash.
	regexp.MustCompile(`-[A-Za-z0-9]+$`),
}

var mediaExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".avi": {}, ".m4v": {},
	".mov": {}, ".wmv": {}, ".ts": {}, ".m2ts": {},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanTitle derives a lookup-ready title from a noisy release or file name.
// Deterministic and idempotent: the strip pass runs to a fixed point, so a
// strip that exposes new noise (a trailing "-1" behind a stripped "-GRP")
// is resolved within this call instead of on the next one.
func CleanTitle(name string) string {
	name = stripExtension(name)

	// The release parser gets first shot; it understands scene layouts far
	// better than pattern stripping does.
	if release := rls.ParseString(name); release.Title != "" {
		name = release.Title
	}

	for {
		stripped := stripNoise(name)
		if stripped == name {
			return name
		}
		name = stripped
	}
}

// stripNoise runs one pass of the pattern set. Every pass shrinks the input
// or leaves it unchanged, so iterating to a fixed point terminates.
func stripNoise(name string) string {
	for _, pattern := range noisePatterns {
		name = pattern.ReplaceAllString(name, " ")
	}

	name = strings.NewReplacer(".", " ", "_", " ").Replace(name)
	name = whitespaceRun.ReplaceAllString(name, " ")
	return strings.Trim(strings.TrimSpace(name), "-. ")
}

func stripExtension(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		if _, ok := mediaExtensions[strings.ToLower(name[idx:])]; ok {
			return name[:idx]
		}
	}
	return name
}

// IsMediaFile reports whether the name carries a known media extension.
func IsMediaFile(name string) bool {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		_, ok := mediaExtensions[strings.ToLower(name[idx:])]
		return ok
	}
	return false
}
