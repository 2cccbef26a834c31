package models

import (
	"encoding/json"
	"strings"
)

// Header is one message header as delivered by the provider.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HeaderList accepts both upstream representations of message headers: the
// canonical array of {name,value} pairs and the older object-of-name-to-value
// form some producers still emit.
type HeaderList []Header

func (h *HeaderList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]string
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		list := make([]Header, 0, len(obj))
		for name, value := range obj {
			list = append(list, Header{Name: name, Value: value})
		}
		*h = list
		return nil
	}
	var list []Header
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*h = list
	return nil
}

// Get returns the first header value matching name, case-insensitively.
func (h HeaderList) Get(name string) (string, bool) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// MessageFacts is the metadata a message evaluation runs against.
type MessageFacts struct {
	AccountID string     `json:"account_id"`
	MessageID string     `json:"message_id"`
	Sender    string     `json:"sender"`
	Subject   string     `json:"subject"`
	Headers   HeaderList `json:"headers"`
	Labels    []string   `json:"labels"`
	Unread    bool       `json:"unread"`
	Starred   bool       `json:"starred"`
	InInbox   bool       `json:"in_inbox"`
	InTrash   bool       `json:"in_trash"`
}

// SenderDomain extracts the domain after the last @, lowercased. Empty when
// the sender address is absent or malformed.
func (m MessageFacts) SenderDomain() string {
	at := strings.LastIndex(m.Sender, "@")
	if at < 0 || at == len(m.Sender)-1 {
		return ""
	}
	return strings.ToLower(m.Sender[at+1:])
}
