// ABOUTME: Content blocks carried in prompts, message chunks, and tool output
// ABOUTME: Text blocks are first-class; unknown block types round-trip as raw JSON

package asp

import (
	"encoding/json"
	"fmt"
)

// ContentBlock is one piece of prompt or message content. The connection
// layer only interprets text blocks; any other type is preserved verbatim
// so richer hosts and agents can exchange payloads this layer does not
// understand.
type ContentBlock struct {
	Type string
	Text string

	raw json.RawMessage
}

// Text builds a plain text block.
func Text(s string) ContentBlock {
	return ContentBlock{Type: "text", Text: s}
}

// IsText reports whether the block is plain text.
func (b ContentBlock) IsText() bool {
	return b.Type == "text"
}

// MarshalJSON emits text blocks from the typed fields and everything else
// from the preserved raw form.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	if b.Type == "text" {
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{Type: b.Type, Text: b.Text})
	}
	if b.raw != nil {
		return b.raw, nil
	}
	if b.Type == "" {
		return nil, fmt.Errorf("content block has no type")
	}
	return json.Marshal(struct {
		Type string `json:"type"`
	}{Type: b.Type})
}

// UnmarshalJSON keeps the raw bytes alongside the decoded type and text so
// non-text blocks survive a round trip untouched.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Type == "" {
		return fmt.Errorf("content block missing type")
	}
	b.Type = head.Type
	b.Text = head.Text
	b.raw = append(json.RawMessage(nil), data...)
	return nil
}
