package music

import (
	"regexp"
	"strings"
)

var (
	linkPattern          = regexp.MustCompile(`^(https?://|www.)[a-zA-Z0-9/.~]*`)
	watchPlaylistPattern = regexp.MustCompile(`watch\?v=.+&(list=[^&]+)`)
)

// NormalizeQuery prepares user input for the fetcher. Angle brackets used to
// suppress link previews are stripped, slashes in search terms are escaped,
// and a video URL carrying a list parameter is rewritten to the playlist URL.
func NormalizeQuery(query string) string {
	query = strings.Trim(strings.TrimSpace(query), "<>")

	if !linkPattern.MatchString(query) {
		query = strings.ReplaceAll(query, "/", "%2F")
	}

	if m := watchPlaylistPattern.FindStringSubmatch(query); m != nil {
		query = "https://www.youtube.com/playlist?" + m[1]
	}
	return query
}
