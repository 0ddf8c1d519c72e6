// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package richtext turns comment bodies into HTML that is safe to embed
// in a page.
//
// [RenderMarkdown] converts an author's markdown (GitHub-flavoured, with
// server-side syntax highlighting of fenced code) to HTML and sanitizes
// it. [Sanitize] applies the same policy to HTML that arrived from the
// homeserver as a formatted_body. The policy is Matrix's strict HTML
// subset: no scripts, styles, event handlers, forms or frames, links
// restricted to http(s), ftp, mailto and magnet, images restricted to
// mxc:// sources, and rich-reply fallbacks (<mx-reply>) removed with
// their content.
//
// Raw HTML in markdown is not passed through; goldmark omits it before
// the sanitizer runs.
package richtext
