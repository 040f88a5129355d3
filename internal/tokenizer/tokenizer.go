// Package tokenizer walks a parsed message's MIME tree and derives the
// keyword set that gets posted into the index: raw body tokens, field-
// suffixed header tokens, date tokens, and attachment markers.
package tokenizer

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/wesm/maildex/internal/mime"
	"github.com/wesm/maildex/internal/textutil"
)

// tokenRe matches runs of characters outside the fixed punctuation and
// whitespace set, at least two characters long.
var tokenRe = regexp.MustCompile(`[^\s!@#$%^&*()_+={}\[\]:"|;'\\<>?,./-]{2,}`)

// stopwords is the small fixed set subtracted from every derived keyword
// list. Deliberately tiny and not locale-aware; there is no stemming or
// language analysis beyond case-folding and this list.
var stopwords = map[string]bool{
	"an": true, "and": true, "are": true, "as": true, "at": true,
	"by": true, "for": true, "from": true, "has": true, "in": true,
	"is": true, "og": true, "or": true, "re": true, "so": true,
	"the": true, "to": true, "was": true,
}

// rawTokenize splits s into lowercased tokens without stopword filtering.
func rawTokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

// Tokenize splits s into lowercased tokens and subtracts the fixed stopword
// set. Stopwords are removed from the base vocabulary before any field
// suffix is applied, so a stopword never survives as "the:subject" any more
// than it survives as a bare "the".
func Tokenize(s string) []string {
	tokens := rawTokenize(s)
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

// suffix appends ":field" to every token in tokens.
func suffix(tokens []string, field string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t + ":" + field
	}
	return out
}

// dateKeywords derives the four date-based keywords for t: year, month,
// day, and the combined Y-M-D date token.
func dateKeywords(t time.Time) []string {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return []string{
		u.Format("2006") + ":year",
		u.Format("01") + ":month",
		u.Format("02") + ":day",
		u.Format("2006-01-02") + ":date",
	}
}

// extractHTMLText walks an HTML document's text nodes and joins them with
// spaces, used for text/html parts instead of the regex-based
// mime.StripHTML so that malformed markup degrades the same way a real HTML
// parser would.
func extractHTMLText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return mime.StripHTML(rawHTML)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

// addressTokens tokenizes the name and email of every address in addrs.
func addressTokens(addrs []mime.Address) []string {
	var tokens []string
	for _, a := range addrs {
		tokens = append(tokens, Tokenize(a.Name)...)
		tokens = append(tokens, Tokenize(a.Email)...)
	}
	return tokens
}

// Extract derives the full, stopword-filtered keyword set for msg: body
// text (raw), subject/from/to/list (field-suffixed), date tokens, and
// attachment markers.
func Extract(msg *mime.Message) []string {
	var keywords []string

	if msg.BodyText != "" {
		keywords = append(keywords, Tokenize(textutil.EnsureUTF8(msg.BodyText))...)
	}
	if msg.BodyHTML != "" {
		keywords = append(keywords, Tokenize(textutil.EnsureUTF8(extractHTMLText(msg.BodyHTML)))...)
	}

	subjectTokens := Tokenize(textutil.EnsureUTF8(msg.Subject))
	keywords = append(keywords, suffix(subjectTokens, "subject")...)

	keywords = append(keywords, suffix(addressTokens(msg.From), "from")...)
	keywords = append(keywords, suffix(addressTokens(msg.To), "to")...)

	if msg.ListID != "" {
		keywords = append(keywords, suffix(Tokenize(msg.ListID), "list")...)
	}

	keywords = append(keywords, dateKeywords(msg.Date)...)

	for _, att := range msg.Attachments {
		if att.Filename == "" {
			continue
		}
		keywords = append(keywords, "attachment:has")
		keywords = append(keywords, suffix(Tokenize(att.Filename), "att")...)
	}

	return keywords
}

// IsStopword reports whether w is in the fixed stopword set.
func IsStopword(w string) bool {
	return stopwords[w]
}
