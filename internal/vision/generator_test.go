package vision

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/alttext-cli/internal/model"
	"github.com/sells-group/alttext-cli/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string, in, out int64) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: in, OutputTokens: out},
	}
}

func sampleItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			Key:       string(rune('a' + i)),
			MediaType: "image/jpeg",
			Data:      []byte{0xff, 0xd8},
		}
	}
	return items
}

func TestGenerate_ParsesNumberedLines(t *testing.T) {
	m := &mockClient{}
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(
		textResponse("Image 1: A red barn at sunset\nImage 2: Rows of young corn", 2000, 40), nil)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "", 300)
	results, usage, err := g.Generate(context.Background(), sampleItems(2))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].Key)
	assert.Equal(t, "A red barn at sunset", results[0].AltText)
	assert.Empty(t, results[0].Err)
	assert.Equal(t, "Rows of young corn", results[1].AltText)
	assert.Equal(t, int64(2000), usage.InputTokens)
	assert.Equal(t, int64(40), usage.OutputTokens)
	m.AssertExpectations(t)
}

func TestGenerate_MissingLineIsParseFailure(t *testing.T) {
	m := &mockClient{}
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(
		textResponse("Image 1: Only the first one", 100, 10), nil)

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "", 300)
	results, _, err := g.Generate(context.Background(), sampleItems(2))
	require.NoError(t, err)

	assert.Equal(t, "Only the first one", results[0].AltText)
	assert.Empty(t, results[1].AltText)
	assert.Equal(t, ParseFailure, results[1].Err)
}

func TestGenerate_APIErrorPropagates(t *testing.T) {
	m := &mockClient{}
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("overloaded"))

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "", 300)
	_, _, err := g.Generate(context.Background(), sampleItems(1))
	assert.Error(t, err)
}

func TestGenerate_EmptyBatch(t *testing.T) {
	m := &mockClient{}
	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "", 300)
	results, usage, err := g.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, usage.InputTokens)
	m.AssertNotCalled(t, "CreateMessage")
}

func TestGenerate_RequestShape(t *testing.T) {
	var captured anthropic.MessageRequest
	m := &mockClient{}
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		captured = req
		return true
	})).Return(textResponse("Image 1: x\nImage 2: y\nImage 3: z", 1, 1), nil)

	items := sampleItems(3)
	items[0].Context = model.PageContext{Title: "Farm Equipment", H1: "Tractors", AdjacentText: "New models"}

	g := NewGenerator(m, "claude-sonnet-4-5-20250929", "Write in British English.", 300)
	_, _, err := g.Generate(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, int64(900), captured.MaxTokens)
	require.Len(t, captured.System, 1)
	assert.Contains(t, captured.System[0].Text, "Write in British English.")
	assert.NotNil(t, captured.System[0].CacheControl)

	// intro + (context, image) per item + closing instruction.
	require.Len(t, captured.Blocks, 2+2*3)
	assert.Equal(t, "text", captured.Blocks[0].Type)
	assert.Contains(t, captured.Blocks[1].Text, "Page title: Farm Equipment")
	assert.Contains(t, captured.Blocks[1].Text, "Adjacent text: New models")
	assert.Equal(t, "image", captured.Blocks[2].Type)
	assert.NotEmpty(t, captured.Blocks[2].Data)
	assert.Contains(t, captured.Blocks[3].Text, "No additional context available.")
}

func TestParseResponse_IgnoresExtraLines(t *testing.T) {
	items := sampleItems(2)
	results := parseResponse(
		"Here is the alt text you asked for:\n\nImage 1: First\nImage 2: Second\n\nLet me know if you need more.",
		items)
	assert.Equal(t, "First", results[0].AltText)
	assert.Equal(t, "Second", results[1].AltText)
}

func TestParseResponse_DoubleDigit(t *testing.T) {
	items := sampleItems(12)
	results := parseResponse("Image 1: one\nImage 12: twelve\nImage 2: two", items)
	assert.Equal(t, "one", results[0].AltText)
	assert.Equal(t, "two", results[1].AltText)
	assert.Equal(t, "twelve", results[11].AltText)
}
