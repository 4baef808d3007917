package rules

// BrokenRule is the display-ready record of one result.
type BrokenRule struct {
	RuleName     string   `json:"ruleName"`
	IsPreserved  bool     `json:"isPreserved"`
	PropertyName string   `json:"propertyName"`
	Message      string   `json:"message"`
	Severity     Severity `json:"severity"`
}

// BrokenRuleList collects the broken rules of one model instance, grouped by
// "<Model>.<property>" or "<Model>" for object-level entries. A key exists
// only while it holds at least one entry. It is not safe for concurrent use.
type BrokenRuleList struct {
	modelName string
	keys      []string
	entries   map[string][]BrokenRule
}

func NewBrokenRuleList(modelName string) *BrokenRuleList {
	return &BrokenRuleList{modelName: modelName, entries: make(map[string][]BrokenRule)}
}

func (l *BrokenRuleList) ModelName() string { return l.modelName }

// Key returns the qualified key of a property name; "" is the object itself.
func (l *BrokenRuleList) Key(propertyName string) string {
	if propertyName == "" {
		return l.modelName
	}
	return l.modelName + "." + propertyName
}

// Add appends br under its qualified key.
func (l *BrokenRuleList) Add(br BrokenRule) {
	k := l.Key(br.PropertyName)
	if _, ok := l.entries[k]; !ok {
		l.keys = append(l.keys, k)
	}
	l.entries[k] = append(l.entries[k], br)
}

// AddResult records a result. Notifications are not broken rules and are
// skipped.
func (l *BrokenRuleList) AddResult(r Result) {
	if vr, ok := r.(*ValidationResult); ok && vr.IsNotification() {
		return
	}
	l.Add(r.ToBrokenRule())
}

// IsValid reports whether no entry has error severity.
func (l *BrokenRuleList) IsValid() bool {
	for _, list := range l.entries {
		for _, br := range list {
			if br.Severity == SeverityError {
				return false
			}
		}
	}
	return true
}

// Len returns the number of keys.
func (l *BrokenRuleList) Len() int { return len(l.keys) }

// Count returns the number of broken rules.
func (l *BrokenRuleList) Count() int {
	n := 0
	for _, list := range l.entries {
		n += len(list)
	}
	return n
}

// Get returns the entries of a property; nil selects the object-level key.
func (l *BrokenRuleList) Get(p *Property) []BrokenRule {
	return append([]BrokenRule(nil), l.entries[l.Key(nameOf(p))]...)
}

// GetByName is Get for targets that are not properties, such as methods.
func (l *BrokenRuleList) GetByName(name string) []BrokenRule {
	return append([]BrokenRule(nil), l.entries[l.Key(name)]...)
}

// Clear removes the non-preserved entries of p, or of the object itself when
// p is nil. Entries of other properties, including affected ones, stay.
func (l *BrokenRuleList) Clear(p *Property) {
	l.remove(l.Key(nameOf(p)), false)
}

// ClearAll removes every entry of p, preserved ones included. With a nil p it
// empties the whole list.
func (l *BrokenRuleList) ClearAll(p *Property) {
	if p == nil {
		l.keys = nil
		l.entries = make(map[string][]BrokenRule)
		return
	}
	l.remove(l.Key(p.Name()), true)
}

// ClearName is Clear for targets that are not properties.
func (l *BrokenRuleList) ClearName(name string) {
	l.remove(l.Key(name), false)
}

func (l *BrokenRuleList) remove(key string, preserved bool) {
	list, ok := l.entries[key]
	if !ok {
		return
	}
	kept := list[:0:0]
	if !preserved {
		for _, br := range list {
			if br.IsPreserved {
				kept = append(kept, br)
			}
		}
	}
	if len(kept) > 0 {
		l.entries[key] = kept
		return
	}
	delete(l.entries, key)
	for i, k := range l.keys {
		if k == key {
			l.keys = append(l.keys[:i:i], l.keys[i+1:]...)
			break
		}
	}
}

// Output projects the list to its client-facing form.
func (l *BrokenRuleList) Output() *BrokenRulesOutput {
	out := newBrokenRulesOutput()
	for _, k := range l.keys {
		for _, br := range l.entries[k] {
			out.add(k, OutputEntry{Message: br.Message, Severity: br.Severity})
		}
	}
	return out
}

// Entries returns a copy of all broken rules in key order.
func (l *BrokenRuleList) Entries() []BrokenRule {
	var all []BrokenRule
	for _, k := range l.keys {
		all = append(all, l.entries[k]...)
	}
	return all
}

func nameOf(p *Property) string {
	if p == nil {
		return ""
	}
	return p.Name()
}
