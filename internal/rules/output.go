package rules

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// ValidationStatus is the HTTP status of a ValidationError.
const ValidationStatus = 422

// OutputEntry is one broken rule as a client sees it.
type OutputEntry struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// BrokenRulesOutput maps qualified keys to their entries in insertion order.
// Rule names and preserved flags are dropped.
type BrokenRulesOutput struct {
	keys    []string
	entries map[string][]OutputEntry
}

func newBrokenRulesOutput() *BrokenRulesOutput {
	return &BrokenRulesOutput{entries: make(map[string][]OutputEntry)}
}

func (o *BrokenRulesOutput) add(key string, e OutputEntry) {
	if _, ok := o.entries[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.entries[key] = append(o.entries[key], e)
}

// Len returns the number of keys.
func (o *BrokenRulesOutput) Len() int { return len(o.keys) }

// Count returns the number of entries across all keys.
func (o *BrokenRulesOutput) Count() int {
	n := 0
	for _, list := range o.entries {
		n += len(list)
	}
	return n
}

func (o *BrokenRulesOutput) Keys() []string { return append([]string(nil), o.keys...) }

func (o *BrokenRulesOutput) Get(key string) []OutputEntry {
	return append([]OutputEntry(nil), o.entries[key]...)
}

// filter returns the entries of the given severity.
func (o *BrokenRulesOutput) filter(s Severity) *BrokenRulesOutput {
	out := newBrokenRulesOutput()
	for _, k := range o.keys {
		for _, e := range o.entries[k] {
			if e.Severity == s {
				out.add(k, e)
			}
		}
	}
	return out
}

// MarshalJSON writes the keys in insertion order.
func (o *BrokenRulesOutput) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.entries[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EncodeMsgpack writes the same shape as MarshalJSON.
func (o *BrokenRulesOutput) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(o.keys)); err != nil {
		return err
	}
	for _, k := range o.keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		list := o.entries[k]
		if err := enc.EncodeArrayLen(len(list)); err != nil {
			return err
		}
		for _, e := range list {
			if err := enc.EncodeMapLen(2); err != nil {
				return err
			}
			if err := enc.EncodeString("message"); err != nil {
				return err
			}
			if err := enc.EncodeString(e.Message); err != nil {
				return err
			}
			if err := enc.EncodeString("severity"); err != nil {
				return err
			}
			if err := enc.EncodeString(e.Severity.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidationError reports a failed save or fetch. It keeps only the
// error-severity entries of the output it was built from and never changes
// after construction.
type ValidationError struct {
	message string
	data    *BrokenRulesOutput
}

// NewValidationError builds the error from out. An empty message defaults to
// "Validation failed".
func NewValidationError(out *BrokenRulesOutput, message string) *ValidationError {
	if message == "" {
		message = "Validation failed"
	}
	if out == nil {
		out = newBrokenRulesOutput()
	}
	return &ValidationError{message: message, data: out.filter(SeverityError)}
}

func (e *ValidationError) Error() string            { return e.message }
func (e *ValidationError) Status() int              { return ValidationStatus }
func (e *ValidationError) Message() string          { return e.message }
func (e *ValidationError) Count() int               { return e.data.Count() }
func (e *ValidationError) Data() *BrokenRulesOutput { return e.data.filter(SeverityError) }

type validationErrorJSON struct {
	Status  int                `json:"status"`
	Message string             `json:"message"`
	Data    *BrokenRulesOutput `json:"data"`
	Count   int                `json:"count"`
}

func (e *ValidationError) MarshalJSON() ([]byte, error) {
	return json.Marshal(validationErrorJSON{
		Status:  ValidationStatus,
		Message: e.message,
		Data:    e.data,
		Count:   e.data.Count(),
	})
}

func (e *ValidationError) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(4); err != nil {
		return err
	}
	if err := enc.EncodeString("status"); err != nil {
		return err
	}
	if err := enc.EncodeInt(ValidationStatus); err != nil {
		return err
	}
	if err := enc.EncodeString("message"); err != nil {
		return err
	}
	if err := enc.EncodeString(e.message); err != nil {
		return err
	}
	if err := enc.EncodeString("data"); err != nil {
		return err
	}
	if err := e.data.EncodeMsgpack(enc); err != nil {
		return err
	}
	if err := enc.EncodeString("count"); err != nil {
		return err
	}
	return enc.EncodeInt(int64(e.data.Count()))
}
