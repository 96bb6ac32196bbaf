package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is a fenced code block and the paragraph right before it.
type CodeBlock struct {
	// Hint is the text of the preceding paragraph, usually naming the file.
	Hint string
	// Lang is the first word of the info string, e.g. "go" or "diff".
	Lang string
	// Content is the raw block text.
	Content string
}

// ExtractCodeBlocks walks the markdown AST and returns every fenced code
// block in document order.
func ExtractCodeBlocks(source []byte) ([]CodeBlock, error) {
	var blocks []CodeBlock
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	err := ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var block CodeBlock
		if fenced.Info != nil {
			if fields := strings.Fields(string(fenced.Info.Segment.Value(source))); len(fields) > 0 {
				block.Lang = strings.ToLower(fields[0])
			}
		}

		var content bytes.Buffer
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			content.Write(seg.Value(source))
		}
		block.Content = content.String()

		if p, ok := fenced.PreviousSibling().(*ast.Paragraph); ok {
			block.Hint = strings.TrimSpace(string(p.Lines().Value(source)))
		}

		blocks = append(blocks, block)
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}
