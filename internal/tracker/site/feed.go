package site

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strconv"
)

// feedDoc captures just enough of the Atom/RSS entry shape to recover
// each entry's link. The tracker's feed entries carry their torrent
// entry id as the link's "id" query parameter; everything else in the
// feed (titles, summaries, dates) is irrelevant here.
type feedDoc struct {
	XMLName xml.Name
	Entries []feedItem `xml:"entry"`
	// RSS fallback: <rss><channel><item>...
	Channel struct {
		Items []feedItem `xml:"item"`
	} `xml:"channel"`
}

type feedItem struct {
	Link feedLink `xml:"link"`
}

// feedLink unmarshals both the Atom form (<link href="...">) and the RSS
// form (<link>...</link> as a text node).
type feedLink struct {
	Href string `xml:"href,attr"`
	Text string `xml:",chardata"`
}

func (l feedLink) url() string {
	if l.Href != "" {
		return l.Href
	}
	return l.Text
}

// ParseFeedEntryIDs parses the torrent entry ids from a feed document,
// in feed order, reading each entry's link "id" query parameter.
func ParseFeedEntryIDs(r io.Reader) ([]int, error) {
	var doc feedDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("site: parse feed: %w", err)
	}

	items := doc.Entries
	if len(items) == 0 {
		items = doc.Channel.Items
	}

	ids := make([]int, 0, len(items))
	for _, item := range items {
		link := item.Link.url()
		u, err := url.Parse(link)
		if err != nil {
			return nil, fmt.Errorf("site: parse feed entry link %q: %w", link, err)
		}
		raw := u.Query().Get("id")
		if raw == "" {
			return nil, fmt.Errorf("site: feed entry link %q has no id parameter", link)
		}
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("site: feed entry id %q is not an integer: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
