// Package feed renders accepted comments as syndication documents.
package feed

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/feeds"
	"github.com/nasermirzaei89/talkback/discuss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type Format string

const (
	FormatRSS  Format = "rss"
	FormatAtom Format = "atom"
	FormatJSON Format = "json"
)

const (
	titleLength     = 80
	anonymousAuthor = "Anonymous"
)

// ParseFormat maps a query value to a Format. An empty value selects RSS.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(value)) {
	case "", FormatRSS:
		return FormatRSS, nil
	case FormatAtom:
		return FormatAtom, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", &discuss.ValidationError{Reason: discuss.ReasonUnknownFormat, Field: "format"}
	}
}

func (format Format) ContentType() string {
	switch format {
	case FormatAtom:
		return "application/atom+xml; charset=utf-8"
	case FormatJSON:
		return "application/feed+json; charset=utf-8"
	default:
		return "application/rss+xml; charset=utf-8"
	}
}

type Builder struct {
	baseURL  string
	markdown goldmark.Markdown
}

// NewBuilder returns a builder whose links are rooted at baseURL. Messages are
// rendered from Markdown with raw HTML left out.
func NewBuilder(baseURL string) *Builder {
	return &Builder{
		baseURL: strings.TrimRight(baseURL, "/"),
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.Strikethrough,
				extension.Linkify,
			),
		),
	}
}

// Build expects comments oldest first, as listed by the service, and emits
// entries newest first.
func (b *Builder) Build(target string, comments []*discuss.Comment) (*feeds.Feed, error) {
	link := b.baseURL + target

	feed := &feeds.Feed{
		Id:          link,
		Title:       "Comments on " + target,
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("Accepted comments on %s", target),
		Items:       make([]*feeds.Item, 0, len(comments)),
	}

	for i := len(comments) - 1; i >= 0; i-- {
		comment := comments[i]

		content, err := b.render(comment.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to render comment %q: %w", comment.ID, err)
		}

		author := comment.Author
		if author == "" {
			author = anonymousAuthor
		}

		feed.Items = append(feed.Items, &feeds.Item{
			Id:          comment.ID,
			Title:       title(comment.Message),
			Link:        &feeds.Link{Href: link + "#comment-" + comment.ID},
			Author:      &feeds.Author{Name: author},
			Description: comment.Message,
			Content:     content,
			Created:     comment.CreatedAt,
		})
	}

	if len(comments) > 0 {
		newest := comments[len(comments)-1].CreatedAt
		feed.Created = newest
		feed.Updated = newest
	}

	return feed, nil
}

func (b *Builder) render(message string) (string, error) {
	var buf bytes.Buffer

	err := b.markdown.Convert([]byte(message), &buf)
	if err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}

	return buf.String(), nil
}

// Render serializes feed in the requested format.
func Render(feed *feeds.Feed, format Format) (string, error) {
	var (
		body string
		err  error
	)

	switch format {
	case FormatAtom:
		body, err = feed.ToAtom()
	case FormatJSON:
		body, err = feed.ToJSON()
	default:
		body, err = feed.ToRss()
	}

	if err != nil {
		return "", fmt.Errorf("failed to encode %s feed: %w", format, err)
	}

	return body, nil
}

func title(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	line = strings.TrimSpace(line)

	if utf8.RuneCountInString(line) <= titleLength {
		return line
	}

	runes := []rune(line)

	return string(runes[:titleLength-1]) + "…"
}
