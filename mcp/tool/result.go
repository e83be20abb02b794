package tool

import "encoding/json"

// ContentType enumerates the tool result content kinds from SPEC_FULL §4.8.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentResource ContentType = "resource"
)

// Content is one entry of a tool result's content array. Text content uses
// Text; image/resource content uses Data (+ optional MimeType).
type Content struct {
	Type     ContentType
	Text     string
	Data     string
	MimeType string
}

// MarshalJSON renders the wire shape {type, text} for text content, or
// {type, data, mime_type?} for image/resource content.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Type == ContentText {
		return json.Marshal(struct {
			Type ContentType `json:"type"`
			Text string      `json:"text"`
		}{c.Type, c.Text})
	}
	out := struct {
		Type     ContentType `json:"type"`
		Data     string      `json:"data"`
		MimeType string      `json:"mime_type,omitempty"`
	}{c.Type, c.Data, c.MimeType}
	return json.Marshal(out)
}

// TextContent is a convenience constructor for the common text-only case.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// Result is a tool execution's outcome, per SPEC_FULL §4.8 and §6's
// "Tool result JSON" shapes.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ErrorResult builds the in-band error shape
// {isError:true, content:[{type:"text", text: message}]}.
func ErrorResult(message string) *Result {
	return &Result{IsError: true, Content: []Content{TextContent(message)}}
}
