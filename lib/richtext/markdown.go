// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package richtext

import (
	"bytes"
	"fmt"
	"html"
	"sync"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// The goldmark instance holds no per-document state and is safe to
// share.
var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				renderer.WithNodeRenderers(util.Prioritized(&codeBlockRenderer{}, 100)),
			),
		)
	})
	return markdownInstance
}

// MarkdownToHTML converts markdown to unsanitized HTML. Raw HTML in the
// source is omitted. Use RenderMarkdown unless the output is sanitized
// separately.
func MarkdownToHTML(source string) (string, error) {
	var output bytes.Buffer
	if err := getMarkdown().Convert([]byte(source), &output); err != nil {
		return "", fmt.Errorf("richtext: rendering markdown: %w", err)
	}
	return output.String(), nil
}

// RenderMarkdown converts markdown to sanitized HTML.
func RenderMarkdown(source string) (string, error) {
	rendered, err := MarkdownToHTML(source)
	if err != nil {
		return "", err
	}
	return Sanitize(rendered), nil
}

// codeBlockRenderer renders fenced code blocks with a known language as
// chroma token spans. Classes rather than inline styles are emitted so
// the page stylesheet picks the colours and the sanitizer only has to
// allow class attributes.
type codeBlockRenderer struct{}

func (r *codeBlockRenderer) RegisterFuncs(registerer renderer.NodeRendererFuncRegisterer) {
	registerer.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
}

func (r *codeBlockRenderer) renderFencedCodeBlock(writer util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	block := node.(*ast.FencedCodeBlock)

	var code bytes.Buffer
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		code.Write(segment.Value(source))
	}

	language := string(block.Language(source))
	lexer := lexers.Get(language)
	if language == "" || lexer == nil {
		writer.WriteString("<pre><code>")
		writer.Write(util.EscapeHTML(code.Bytes()))
		writer.WriteString("</code></pre>\n")
		return ast.WalkSkipChildren, nil
	}

	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, code.String())
	if err != nil {
		return ast.WalkStop, fmt.Errorf("richtext: tokenising %s block: %w", language, err)
	}
	formatter := chromahtml.New(chromahtml.WithClasses(true), chromahtml.PreventSurroundingPre(true))

	writer.WriteString(`<pre class="chroma"><code class="language-`)
	writer.WriteString(html.EscapeString(language))
	writer.WriteString(`">`)
	if err := formatter.Format(writer, styles.Fallback, iterator); err != nil {
		return ast.WalkStop, fmt.Errorf("richtext: formatting %s block: %w", language, err)
	}
	writer.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}
