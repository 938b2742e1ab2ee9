package pipeline

import (
	"strings"
	"time"
)

// dateLayouts are the accepted scraped-date formats.
var dateLayouts = []string{
	"2 Jan 2006",
	"2 January 2006",
	"2006-01-02",
	"02/01/2006",
}

// ParseAiredDate parses date text scraped from an episode page. The
// text often embeds extra context around the date ("Radio 4, 24 Nov
// 2025, 29 mins"), so each comma- or middle-dot-delimited segment is
// tried in turn. Returns nil when nothing parses.
func ParseAiredDate(dateText string) *time.Time {
	text := strings.TrimSpace(dateText)
	if text == "" {
		return nil
	}

	segments := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '·'
	})
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, segment); err == nil {
				return &t
			}
		}
	}
	return nil
}
