package ingestion

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	dErrors "supporterhub/pkg/domain-errors"
)

// Message is the queue envelope every source publishes.
type Message struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	RawPayloadRef *string         `json:"rawPayloadRef,omitempty"`
}

// DecodeMessage parses an envelope. A body that is not a JSON object with a
// type is malformed and will never succeed on retry.
func DecodeMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, dErrors.Wrap(err, dErrors.CodeMalformedMessage, "decode message envelope")
	}
	if strings.TrimSpace(msg.Type) == "" {
		return Message{}, dErrors.New(dErrors.CodeMalformedMessage, "message type is required")
	}
	if msg.RawPayloadRef != nil && *msg.RawPayloadRef == "" {
		msg.RawPayloadRef = nil
	}
	return msg, nil
}

// EncodeMessage builds an envelope body. Source clients and tests use it to
// produce the same shape the queue carries.
func EncodeMessage(msgType string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "encode message data")
	}
	return Message{Type: msgType, Data: raw}, nil
}

func decodeData(msg Message, v any) error {
	if len(bytes.TrimSpace(msg.Data)) == 0 {
		return dErrors.New(dErrors.CodeMalformedMessage, msg.Type+": data is required")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeMalformedMessage, msg.Type+": decode data")
	}
	return nil
}

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	*f = flexID(string(b))
	return nil
}

// flexAmount accepts a decimal major-unit amount as a JSON string or number
// and keeps it in minor units.
type flexAmount struct {
	minor *int64
}

func (a *flexAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	a.minor = parseMinorUnits(raw)
	return nil
}

// parseMinorUnits converts "12.5" to 1250. Digits beyond the second decimal
// are truncated. Unparseable or out-of-range values yield nil.
func parseMinorUnits(s string) *int64 {
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if (whole == "" && frac == "") || !allDigits(whole) || !allDigits(frac) {
		return nil
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return nil
	}
	f, _ := strconv.ParseInt(frac, 10, 64)
	if w > (math.MaxInt64-f)/100 {
		return nil
	}
	v := w*100 + f
	if negative {
		v = -v
	}
	return &v
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseTime accepts RFC 3339 strings. Anything else is the zero time, which
// the processor replaces with the ingest time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
