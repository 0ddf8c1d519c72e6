// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package richtext

import (
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyInstance *bluemonday.Policy
	policyOnce     sync.Once
)

var (
	languageClass = regexp.MustCompile(`^language-[A-Za-z0-9_+#.-]+$`)
	tokenClass    = regexp.MustCompile(`^[a-z][a-z0-9]{0,5}$`)
	matrixColor   = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	mxcSource     = regexp.MustCompile(`^mxc://[^/]+/[A-Za-z0-9_-]+$`)
	linkTarget    = regexp.MustCompile(`^_blank$`)
	dimension     = regexp.MustCompile(`^[0-9]{1,5}$`)
)

// getPolicy builds the strict Matrix HTML policy once. A bluemonday
// Policy is safe for concurrent use after construction.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy := bluemonday.NewPolicy()

		policy.AllowElements(
			"del", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "p",
			"ul", "ol", "sup", "sub", "li", "b", "i", "u", "strong", "em",
			"s", "strike", "code", "hr", "br", "div", "table", "thead",
			"tbody", "tr", "th", "td", "caption", "pre", "span",
			"details", "summary",
		)

		policy.AllowURLSchemes("http", "https", "ftp", "mailto", "magnet", "mxc")
		policy.RequireParseableURLs(true)
		policy.AllowAttrs("href").OnElements("a")
		policy.AllowAttrs("target").Matching(linkTarget).OnElements("a")
		policy.RequireNoFollowOnLinks(true)
		policy.RequireNoReferrerOnLinks(true)

		policy.AllowAttrs("src").Matching(mxcSource).OnElements("img")
		policy.AllowAttrs("width", "height").Matching(dimension).OnElements("img")
		policy.AllowAttrs("alt", "title").OnElements("img")

		policy.AllowAttrs("start").Matching(bluemonday.Integer).OnElements("ol")
		policy.AllowAttrs("data-mx-bg-color", "data-mx-color").Matching(matrixColor).OnElements("span")
		policy.AllowAttrs("data-mx-spoiler").OnElements("span")
		policy.AllowAttrs("class").Matching(languageClass).OnElements("code")
		policy.AllowAttrs("class").Matching(tokenClass).OnElements("pre", "span")

		// Rich-reply fallbacks quote the parent message; dropping the
		// element alone would leave the quote in the comment.
		policy.SkipElementsContent("mx-reply")

		policyInstance = policy
	})
	return policyInstance
}

// Sanitize reduces untrusted HTML to the strict Matrix subset.
func Sanitize(untrusted string) string {
	return getPolicy().Sanitize(untrusted)
}
