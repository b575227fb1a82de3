// Package markup converts the rich-text HTML the service embeds in chat
// payloads into plain markup text.
package markup

import (
	"strings"

	"golang.org/x/net/html"
)

// Rule rewrites one HTML tag into a pair of markup delimiters. An empty
// Tag matches any tag; Attrs entries must all be present with the given
// values.
type Rule struct {
	Tag   string
	Attrs map[string]string
	Start string
	End   string
}

// DefaultRules mirror the service's chat formatting.
var DefaultRules = []Rule{
	{Tag: "code", Start: "`", End: "`"},
	{Tag: "strong", Start: "*", End: "*"},
	{Tag: "em", Start: "_", End: "_"},
	{Tag: "s", Start: "~~", End: "~~"},
	{Attrs: map[string]string{"class": "spoiler"}, Start: "[sp]", End: "[/sp]"},
}

// Parser converts chat HTML using a fixed rule set.
type Parser struct {
	rules []Rule
}

// NewParser builds a parser; with no rules it uses DefaultRules.
func NewParser(rules ...Rule) *Parser {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Parser{rules: rules}
}

// Parse renders msg as markup text. Known tags become their delimiters,
// unknown tags contribute their src/href URLs, entities are unescaped
// and unclosed tags are closed at end of input.
func (p *Parser) Parse(msg string) string {
	type open struct {
		tag string
		end string
	}
	var out strings.Builder
	var stack []open

	z := html.NewTokenizer(strings.NewReader(msg))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			attrs := make(map[string]string, len(tok.Attr))
			for _, a := range tok.Attr {
				attrs[a.Key] = a.Val
			}
			if rule, ok := p.matchRule(tok.Data, attrs); ok {
				out.WriteString(rule.Start)
				if tt == html.SelfClosingTagToken {
					out.WriteString(rule.End)
				} else {
					stack = append(stack, open{tag: tok.Data, end: rule.End})
				}
				continue
			}
			// Unrecognized tags: keep any linked URL visible.
			for _, a := range tok.Attr {
				if a.Key == "src" || a.Key == "href" {
					out.WriteString(" " + a.Val + " ")
				}
			}
		case html.EndTagToken:
			// Pop until the matching opener, closing everything inside.
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				out.WriteString(top.end)
				if top.tag == tok.Data {
					break
				}
			}
		case html.TextToken:
			out.WriteString(tok.Data)
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		out.WriteString(stack[i].end)
	}
	return out.String()
}

func (p *Parser) matchRule(tag string, attrs map[string]string) (Rule, bool) {
	for _, rule := range p.rules {
		if rule.Tag != "" && rule.Tag != tag {
			continue
		}
		ok := true
		for k, v := range rule.Attrs {
			if attrs[k] != v {
				ok = false
				break
			}
		}
		if ok {
			return rule, true
		}
	}
	return Rule{}, false
}

// Parse converts msg with DefaultRules.
func Parse(msg string) string {
	return NewParser().Parse(msg)
}
