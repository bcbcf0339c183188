// Package rewrite implements the HTML rewrite engine that keeps navigation,
// form submission and script-driven requests routed through the proxy.
//
// Documents are processed with the golang.org/x/net/html tokenizer. Tokens no
// rule touches are copied to the output byte-for-byte; a tag is re-serialized
// only when one of its attributes changes. Each attribute value and text run
// is visited exactly once, so output produced by one rule is never matched
// again by another.
package rewrite

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Rule selects one rewrite rule. Rules combine as a bit set and are applied
// to each token in declaration order.
type Rule uint16

const (
	// RootRelative absolutizes href/src values starting with "/" against the
	// base origin.
	RootRelative Rule = 1 << iota
	// Relative prefixes other non-absolute href/src values with the base origin.
	Relative
	// CSSURL absolutizes url(/...) references in text and attribute values.
	CSSURL
	// Navigation routes window.location / location.href assignments through the proxy.
	Navigation
	// FormAction routes form submissions through the proxy.
	FormAction
	// BaseTag injects <base href="<origin>/"> at the top of <head>.
	BaseTag
	// StripRefresh drops <meta http-equiv="refresh"> tags.
	StripRefresh
	// Fetch routes fetch("...") calls through the proxy.
	Fetch

	// All is the full rule set used for /website.
	All = RootRelative | Relative | CSSURL | Navigation | FormAction | BaseTag | StripRefresh | Fetch
)

const textRules = CSSURL | Navigation | Fetch

var (
	cssURLPattern     = regexp.MustCompile(`url\(["']?/([^"')]*)["']?\)`)
	navigationPattern = regexp.MustCompile(`((?:window\.location|location\.href)\s*=\s*)(["'])([^"']*)["']`)
	fetchPattern      = regexp.MustCompile(`(fetch\s*\(\s*)(["'])([^"']*)["']`)
)

// prefixes that exempt an href/src value from the Relative rule.
var absolutePrefixes = []string{"http", "//", "mailto:", "tel:", "javascript:", "#"}

// Rewriter applies a fixed rule set to HTML documents. It holds no
// per-document state and is safe for concurrent use.
type Rewriter struct {
	rules Rule
}

// New returns a Rewriter applying rules.
func New(rules Rule) *Rewriter {
	return &Rewriter{rules: rules}
}

// Rewrite returns doc with every enabled rule applied against ctx. It never
// fails: input the tokenizer cannot make sense of is copied through.
func (r *Rewriter) Rewrite(doc []byte, ctx Context) []byte {
	base, err := url.Parse(ctx.BaseOrigin + "/")
	if err != nil {
		return doc
	}

	p := &pass{
		rules:   r.rules,
		origin:  ctx.BaseOrigin,
		base:    base,
		baseTag: `<base href="` + html.EscapeString(ctx.BaseOrigin+"/") + `">`,
	}
	if r.rules&BaseTag != 0 {
		// A document whose head already carries our base tag has been through
		// the engine once; injecting it again would stack duplicates.
		p.headDone = hasBaseTag(doc, ctx.BaseOrigin+"/")
	}

	var out bytes.Buffer
	out.Grow(len(doc) + len(doc)/8)

	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// Raw holds whatever partial token preceded EOF.
			out.Write(z.Raw())
			return out.Bytes()
		case html.StartTagToken, html.SelfClosingTagToken:
			// Token lowercases names and unescapes values in place, so the
			// raw bytes have to be copied out first.
			raw := bytes.Clone(z.Raw())
			p.tag(&out, raw, z.Token())
		case html.TextToken:
			raw := z.Raw()
			if p.rules&textRules == 0 {
				out.Write(raw)
				continue
			}
			out.WriteString(p.text(string(raw)))
		default:
			out.Write(z.Raw())
		}
	}
}

// pass holds the state of a single Rewrite call.
type pass struct {
	rules    Rule
	origin   string
	base     *url.URL
	baseTag  string
	headDone bool
}

func (p *pass) tag(out *bytes.Buffer, raw []byte, tok html.Token) {
	if tok.Data == "meta" && p.rules&StripRefresh != 0 && isRefresh(tok) {
		return
	}

	changed := false
	for i := range tok.Attr {
		a := &tok.Attr[i]
		if v := p.attr(tok.Data, a.Key, a.Val); v != a.Val {
			a.Val = v
			changed = true
		}
	}
	if changed {
		out.WriteString(tok.String())
	} else {
		out.Write(raw)
	}

	if tok.Data == "head" && tok.Type == html.StartTagToken && p.rules&BaseTag != 0 && !p.headDone {
		out.WriteString(p.baseTag)
		p.headDone = true
	}
}

func (p *pass) attr(tag, key, val string) string {
	switch key {
	case "href", "src":
		switch {
		case IsProxied(val):
		case p.rules&RootRelative != 0 && isRootRelative(val):
			val = p.origin + val
		case p.rules&Relative != 0 && !hasAnyPrefix(val, absolutePrefixes):
			val = p.origin + "/" + val
		}
	case "action":
		if tag == "form" && p.rules&FormAction != 0 {
			val = p.proxied(val)
		}
	}
	return p.text(val)
}

// text applies the rules that operate on free text: inline scripts, style
// sheets and attribute values alike.
func (p *pass) text(s string) string {
	if p.rules&CSSURL != 0 && strings.Contains(s, "url(") {
		s = cssURLPattern.ReplaceAllStringFunc(s, func(m string) string {
			path := cssURLPattern.FindStringSubmatch(m)[1]
			if strings.HasPrefix(path, "/") {
				// protocol-relative, already points at a host
				return m
			}
			return `url("` + p.origin + "/" + path + `")`
		})
	}
	if p.rules&Navigation != 0 && strings.Contains(s, "location") {
		s = p.replaceQuoted(navigationPattern, s)
	}
	if p.rules&Fetch != 0 && strings.Contains(s, "fetch") {
		s = p.replaceQuoted(fetchPattern, s)
	}
	return s
}

// replaceQuoted rewrites the quoted operand captured by re (groups: prefix,
// quote, value) into a ProxiedURL, keeping the prefix and quote character.
func (p *pass) replaceQuoted(re *regexp.Regexp, s string) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		sm := re.FindStringSubmatch(m)
		prefix, quote, val := sm[1], sm[2], sm[3]
		proxied := p.proxied(val)
		if proxied == val {
			return m
		}
		return prefix + quote + proxied + quote
	})
}

// proxied returns ref as a ProxiedURL, or ref itself when it is already
// proxied or cannot be resolved.
func (p *pass) proxied(ref string) string {
	if IsProxied(ref) {
		return ref
	}
	abs, ok := resolveAgainst(p.base, ref)
	if !ok {
		return ref
	}
	return ProxiedURL(abs)
}

// hasBaseTag reports whether a <base> tag pointing at href appears inside the
// document's head. Markup inside scripts, comments and textareas does not count.
func hasBaseTag(doc []byte, href string) bool {
	z := html.NewTokenizer(bytes.NewReader(doc))
	inHead := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "head":
				inHead = true
			case "body":
				return false
			case "base":
				if inHead && attrValue(tok, "href") == href {
					return true
				}
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				inHead = false
			}
		}
	}
}

func attrValue(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isRefresh(tok html.Token) bool {
	for _, a := range tok.Attr {
		if a.Key == "http-equiv" && strings.EqualFold(strings.TrimSpace(a.Val), "refresh") {
			return true
		}
	}
	return false
}

func isRootRelative(v string) bool {
	return strings.HasPrefix(v, "/") && !strings.HasPrefix(v, "//")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
