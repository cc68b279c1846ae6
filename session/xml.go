package session

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// Node tags and attributes of the persisted event tree.
const (
	tagSession    = "session"
	tagEvents     = "events"
	tagMsg        = "msg"
	tagThought    = "thought"
	tagAction     = "action"
	tagCode       = "code"
	tagResult     = "result"
	tagResumeFrom = "resume_from"

	attrID          = "id"
	attrFrom        = "from"
	attrFromEventID = "from_event_id"
	attrSuccess     = "success"
	attrError       = "error"

	senderUser      = "user"
	senderAssistant = "assistant"
)

var ErrMissingEvents = errors.New("session: missing <events>")

// Marshal serializes s to the XML event tree:
//
//	<session>
//	  <events>
//	    <msg id="…" from="user">…</msg>
//	    <thought id="…">…</thought>
//	    …
//	  </events>
//	</session>
func Marshal(s *Session) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	// escape newlines in attribute values so error tracebacks survive, and
	// carriage returns in text so code and output are read back verbatim
	doc.WriteSettings.CanonicalAttrVal = true
	doc.WriteSettings.CanonicalText = true

	events := doc.CreateElement(tagSession).CreateElement(tagEvents)
	for _, e := range s.Events {
		el := Visit[*etree.Element](e.Body, xmlEncoder{})
		el.CreateAttr(attrID, e.ID)
		events.AddChild(el)
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

// Unmarshal is the inverse of Marshal. Besides a full <session> document it
// accepts an <events> root or a bare sequence of event nodes. Events without
// an id get a generated one.
func Unmarshal(data []byte) (*Session, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	nodes := doc.ChildElements()
	if root := doc.Root(); root != nil {
		switch root.Tag {
		case tagSession:
			events := root.FindElement(".//" + tagEvents)
			if events == nil {
				return nil, ErrMissingEvents
			}
			nodes = events.ChildElements()
		case tagEvents:
			nodes = root.ChildElements()
		}
	}

	var s Session
	for _, el := range nodes {
		e, err := eventFromXML(el)
		if err != nil {
			return nil, err
		}

		if s.Index(e.ID) >= 0 {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, e.ID)
		}
		s.Events = append(s.Events, e)
	}

	return &s, nil
}

func ReadFile(path string) (*Session, error) {
	bts, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s, err := Unmarshal(bts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func WriteFile(path string, s *Session) error {
	bts, err := Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bts, 0o644)
}

type xmlEncoder struct{}

func textElement(tag, text string) *etree.Element {
	el := etree.NewElement(tag)
	if text != "" {
		el.SetText(text)
	}
	return el
}

func (xmlEncoder) HumanMsg(b HumanMsg) *etree.Element {
	el := textElement(tagMsg, b.Text)
	el.CreateAttr(attrFrom, senderUser)
	return el
}

func (xmlEncoder) AssistantMsg(b AssistantMsg) *etree.Element {
	el := textElement(tagMsg, b.Text)
	el.CreateAttr(attrFrom, senderAssistant)
	return el
}

func (xmlEncoder) AssistantThought(b AssistantThought) *etree.Element {
	return textElement(tagThought, b.Text)
}

func (xmlEncoder) AssistantAction(b AssistantAction) *etree.Element {
	return textElement(tagAction, b.Text)
}

func (xmlEncoder) CodeFragment(b CodeFragment) *etree.Element {
	return textElement(tagCode, b.Code)
}

func (xmlEncoder) ExecutionResult(b ExecutionResult) *etree.Element {
	el := textElement(tagResult, b.Output)
	el.CreateAttr(attrSuccess, strconv.FormatBool(b.Success))
	if b.Error != "" {
		el.CreateAttr(attrError, b.Error)
	}
	return el
}

func (xmlEncoder) ResumeFrom(b ResumeFrom) *etree.Element {
	el := etree.NewElement(tagResumeFrom)
	el.CreateAttr(attrFromEventID, b.TargetEventID)
	return el
}

// normalizedText trims surrounding whitespace, which carries no meaning in
// human-authored and tag-delimited text. Code and execution output are read
// verbatim instead.
func normalizedText(el *etree.Element) string {
	return strings.TrimSpace(el.Text())
}

func eventFromXML(el *etree.Element) (Event, error) {
	var body EventBody
	switch el.Tag {
	case tagMsg:
		switch sender := el.SelectAttrValue(attrFrom, ""); sender {
		case senderUser:
			body = HumanMsg{Text: normalizedText(el)}
		case senderAssistant:
			body = AssistantMsg{Text: normalizedText(el)}
		default:
			return Event{}, fmt.Errorf("session: unknown sender %q for <%s>", sender, tagMsg)
		}
	case tagThought:
		body = AssistantThought{Text: normalizedText(el)}
	case tagAction:
		body = AssistantAction{Text: normalizedText(el)}
	case tagCode:
		body = CodeFragment{Code: el.Text()}
	case tagResult:
		success := true
		if v := el.SelectAttr(attrSuccess); v != nil {
			b, err := strconv.ParseBool(v.Value)
			if err != nil {
				return Event{}, fmt.Errorf("session: invalid %s attribute %q on <%s>", attrSuccess, v.Value, tagResult)
			}
			success = b
		}
		body = ExecutionResult{
			Output:  el.Text(),
			Success: success,
			Error:   el.SelectAttrValue(attrError, ""),
		}
	case tagResumeFrom:
		target := el.SelectAttrValue(attrFromEventID, "")
		if target == "" {
			return Event{}, fmt.Errorf("session: <%s> must have a %q attribute", tagResumeFrom, attrFromEventID)
		}
		body = ResumeFrom{TargetEventID: target}
	default:
		return Event{}, fmt.Errorf("session: unknown event tag <%s>", el.Tag)
	}

	id := el.SelectAttrValue(attrID, "")
	if id == "" {
		id = uuid.NewString()
	}

	return Event{ID: id, Body: body}, nil
}
