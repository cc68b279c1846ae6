package turn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/ollama/replagent/session"
)

var (
	ErrMissingTag         = errors.New("missing tag")
	ErrNoCodeBlock        = errors.New("no code block found")
	ErrMultipleCodeBlocks = errors.New("multiple code blocks found")
)

// ParseError is returned for turn text that does not follow the turn markup.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid turn: %v\n%s", e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// markdown is a CommonMark block parser without raw HTML blocks, which would
// otherwise swallow a fence that follows stray markup on the same block.
var markdown = parser.NewParser(
	parser.WithBlockParsers(
		util.Prioritized(parser.NewSetextHeadingParser(), 100),
		util.Prioritized(parser.NewThematicBreakParser(), 200),
		util.Prioritized(parser.NewListParser(), 300),
		util.Prioritized(parser.NewListItemParser(), 400),
		util.Prioritized(parser.NewCodeBlockParser(), 500),
		util.Prioritized(parser.NewATXHeadingParser(), 600),
		util.Prioritized(parser.NewFencedCodeBlockParser(), 700),
		util.Prioritized(parser.NewBlockquoteParser(), 800),
		util.Prioritized(parser.NewParagraphParser(), 1000),
	),
	parser.WithInlineParsers(parser.DefaultInlineParsers()...),
	parser.WithParagraphTransformers(parser.DefaultParagraphTransformers()...),
)

// Parse splits a complete assistant turn into its thought, action and code
// events, in that order. The action is searched after the thought, and the
// code block in whatever text the two tagged regions leave.
func Parse(s string) ([]session.EventBody, error) {
	thought, before, rest, err := cut(s, ThoughtOpen, ThoughtClose)
	if err != nil {
		return nil, &ParseError{Text: s, Err: err}
	}

	action, between, after, err := cut(rest, ActionOpen, ActionClose)
	if err != nil {
		return nil, &ParseError{Text: s, Err: err}
	}

	code, err := codeBlock(strings.TrimSpace(before + between + after))
	if err != nil {
		return nil, &ParseError{Text: s, Err: err}
	}

	return []session.EventBody{
		session.AssistantThought{Text: thought},
		session.AssistantAction{Text: action},
		session.CodeFragment{Code: code},
	}, nil
}

// cut returns the trimmed content between the first open tag and the first
// close tag following it, along with the text before and after that region.
func cut(s, openTag, closeTag string) (content, before, after string, err error) {
	i := strings.Index(s, openTag)
	if i < 0 {
		return "", "", "", fmt.Errorf("%w %s", ErrMissingTag, openTag)
	}

	inner := s[i+len(openTag):]
	j := strings.Index(inner, closeTag)
	if j < 0 {
		return "", "", "", fmt.Errorf("%w %s", ErrMissingTag, closeTag)
	}

	return strings.TrimSpace(inner[:j]), s[:i], inner[j+len(closeTag):], nil
}

func codeBlock(s string) (string, error) {
	src := []byte(s)
	doc := markdown.Parse(text.NewReader(src))

	var blocks []*ast.FencedCodeBlock
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if block, ok := n.(*ast.FencedCodeBlock); ok && entering {
			blocks = append(blocks, block)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}

	switch len(blocks) {
	case 0:
		return "", ErrNoCodeBlock
	case 1:
	default:
		return "", ErrMultipleCodeBlocks
	}

	var sb strings.Builder
	lines := blocks[0].Lines()
	for i := range lines.Len() {
		segment := lines.At(i)
		sb.Write(segment.Value(src))
	}

	return strings.TrimSuffix(sb.String(), "\n"), nil
}
