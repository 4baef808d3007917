package engine

import (
	"context"
	"fmt"
	"sync"

	"business-objects/internal/instrument"
	"business-objects/internal/metadata"
	"business-objects/internal/rules"
	"business-objects/internal/store"
)

// CommandFunc runs a command object once it passed authorization and
// validation. It may set result values on obj.
type CommandFunc func(ctx context.Context, obj *Instance) error

// MethodFunc runs a named business method on a fetched instance.
type MethodFunc func(ctx context.Context, obj *Instance, args map[string]any) (any, error)

type methodKey struct {
	model  string
	method string
}

// Portal runs the object lifecycle: every operation is authorized first,
// then validated, then handed to DataAccess.
type Portal struct {
	registry *metadata.Registry
	data     DataAccess

	mu       sync.RWMutex
	commands map[string]CommandFunc
	methods  map[methodKey]MethodFunc
}

func NewPortal(reg *metadata.Registry, data DataAccess) *Portal {
	return &Portal{
		registry: reg,
		data:     data,
		commands: make(map[string]CommandFunc),
		methods:  make(map[methodKey]MethodFunc),
	}
}

// HandleCommand registers the handler of a command model.
func (p *Portal) HandleCommand(model string, fn CommandFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands[model] = fn
}

// HandleMethod registers the handler of a model's business method.
func (p *Portal) HandleMethod(model, method string, fn MethodFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods[methodKey{model, method}] = fn
}

// Model resolves a model by name.
func (p *Portal) Model(name string) (*metadata.Model, error) {
	m := p.registry.GetModel(name)
	if m == nil {
		return nil, UnknownModelError(name)
	}
	return m, nil
}

// Create returns a new instance with defaults applied and its rules checked.
func (p *Portal) Create(ctx context.Context, model string, id rules.Identity) (*Instance, error) {
	ctx, span := startSpan(ctx, "portal.create", model)
	defer span.End()

	m, err := p.Model(model)
	if err != nil {
		return nil, fail(span, err)
	}
	if err := p.authorize(ctx, m, id, rules.CreateObject, rules.NoTarget); err != nil {
		return nil, fail(span, err)
	}
	obj := NewInstance(m, id)
	if err := p.validate(ctx, obj); err != nil {
		return nil, fail(span, err)
	}
	span.SetStatus("ok")
	return obj, nil
}

// Fetch loads a stored instance and checks its rules.
func (p *Portal) Fetch(ctx context.Context, model, key string, id rules.Identity) (*Instance, error) {
	ctx, span := startSpan(ctx, "portal.fetch", model)
	defer span.End()
	span.SetModel(model, key)

	m, err := p.Model(model)
	if err != nil {
		return nil, fail(span, err)
	}
	if m.IsCommand() {
		return nil, fail(span, &rules.ArgumentError{Param: "model", Reason: model + " is a command and cannot be fetched"})
	}
	if err := p.authorize(ctx, m, id, rules.FetchObject, rules.NoTarget); err != nil {
		return nil, fail(span, err)
	}
	row, err := p.data.Fetch(ctx, m, key)
	if err != nil {
		return nil, fail(span, err)
	}
	obj := NewInstance(m, id)
	obj.load(row)
	if err := p.validate(ctx, obj); err != nil {
		return nil, fail(span, err)
	}
	span.SetStatus("ok")
	return obj, nil
}

// InstanceList is one page of a list fetch.
type InstanceList struct {
	Items   []*Instance
	Total   int64
	Page    int
	PerPage int
}

// FetchList loads one page of a model's stored instances. The fetch is
// authorized once for the whole list. Filters and sorts may only name
// properties the identity can read.
func (p *Portal) FetchList(ctx context.Context, model string, id rules.Identity, q store.ListQuery) (*InstanceList, error) {
	ctx, span := startSpan(ctx, "portal.fetch_list", model)
	defer span.End()

	m, err := p.Model(model)
	if err != nil {
		return nil, fail(span, err)
	}
	if m.IsCommand() {
		return nil, fail(span, &rules.ArgumentError{Param: "model", Reason: model + " is a command and cannot be fetched"})
	}
	if err := p.authorize(ctx, m, id, rules.FetchObject, rules.NoTarget); err != nil {
		return nil, fail(span, err)
	}
	q = q.Normalize()
	if err := checkListQuery(m, id, q); err != nil {
		return nil, fail(span, err)
	}

	rows, total, err := p.data.List(ctx, m, q)
	if err != nil {
		return nil, fail(span, err)
	}
	list := &InstanceList{Items: make([]*Instance, 0, len(rows)), Total: total, Page: q.Page, PerPage: q.PerPage}
	for _, row := range rows {
		obj := NewInstance(m, id)
		obj.load(row)
		list.Items = append(list.Items, obj)
	}
	span.SetMetadata("count", len(list.Items))
	span.SetStatus("ok")
	return list, nil
}

// checkListQuery refuses filters and sorts on hidden properties and on
// properties the identity may not read.
func checkListQuery(m *metadata.Model, id rules.Identity, q store.ListQuery) error {
	names := make([]string, 0, len(q.Filters)+len(q.Sorts))
	for _, f := range q.Filters {
		names = append(names, f.Property)
	}
	for _, s := range q.Sorts {
		names = append(names, s.Property)
	}

	scratch := NewInstance(m, id)
	for _, name := range names {
		prop := m.Property(name)
		if prop == nil || !prop.IsVisible() {
			return &rules.ArgumentError{Param: "query", Reason: fmt.Sprintf("%s has no property %q", m.Name(), name)}
		}
		allowed, err := scratch.can(rules.ReadProperty, rules.PropertyTarget(prop))
		if err != nil {
			return err
		}
		if !allowed {
			return &rules.ArgumentError{Param: "query", Reason: fmt.Sprintf("property %q is not readable", name)}
		}
	}
	return nil
}

// Save writes obj according to its state: removed objects are deleted, new
// objects inserted, dirty objects updated. Unchanged objects are left alone.
// An invalid object is refused with a *rules.ValidationError.
func (p *Portal) Save(ctx context.Context, obj *Instance) error {
	m := obj.model
	ctx, span := startSpan(ctx, "portal.save", m.Name())
	defer span.End()
	span.SetModel(m.Name(), obj.Key())
	span.SetMetadata("state", obj.state.String())

	if m.IsReadOnly() {
		return fail(span, fmt.Errorf("save %s: %w", m.Name(), ErrReadOnlyModel))
	}
	if m.IsCommand() {
		return fail(span, &rules.ArgumentError{Param: "model", Reason: m.Name() + " is a command; use Execute"})
	}

	var event string
	switch {
	case obj.state == StateRemoved:
		if obj.persisted {
			if err := p.authorize(ctx, m, obj.identity, rules.RemoveObject, rules.NoTarget); err != nil {
				return fail(span, err)
			}
			if err := p.data.Delete(ctx, m, obj.Key()); err != nil {
				return fail(span, err)
			}
			event = "delete"
		}
		obj.persisted = false
		obj.state = StateNew

	case !obj.persisted:
		if err := p.authorize(ctx, m, obj.identity, rules.CreateObject, rules.NoTarget); err != nil {
			return fail(span, err)
		}
		if err := p.validate(ctx, obj); err != nil {
			return fail(span, err)
		}
		if !obj.IsValid() {
			return fail(span, rules.NewValidationError(obj.broken.Output(), ""))
		}
		row, err := p.data.Insert(ctx, m, obj.Values())
		if err != nil {
			return fail(span, err)
		}
		obj.load(row)
		event = "create"

	case obj.state == StateDirty:
		if err := p.authorize(ctx, m, obj.identity, rules.UpdateObject, rules.NoTarget); err != nil {
			return fail(span, err)
		}
		if err := p.validate(ctx, obj); err != nil {
			return fail(span, err)
		}
		if !obj.IsValid() {
			return fail(span, rules.NewValidationError(obj.broken.Output(), ""))
		}
		if err := p.data.Update(ctx, m, obj.Key(), obj.Values()); err != nil {
			return fail(span, err)
		}
		obj.state = StatePristine
		event = "update"

	default:
		span.SetStatus("ok")
		return nil
	}

	if event != "" {
		instrument.GetInstrumenter(ctx).EmitBusinessEvent(ctx, event, m.Name(), obj.Key(), nil)
	}
	span.SetStatus("ok")
	return nil
}

// Remove deletes a stored instance by key.
func (p *Portal) Remove(ctx context.Context, model, key string, id rules.Identity) error {
	ctx, span := startSpan(ctx, "portal.remove", model)
	defer span.End()
	span.SetModel(model, key)

	m, err := p.Model(model)
	if err != nil {
		return fail(span, err)
	}
	if m.IsReadOnly() {
		return fail(span, fmt.Errorf("remove %s: %w", m.Name(), ErrReadOnlyModel))
	}
	if err := p.authorize(ctx, m, id, rules.RemoveObject, rules.NoTarget); err != nil {
		return fail(span, err)
	}
	if err := p.data.Delete(ctx, m, key); err != nil {
		return fail(span, err)
	}
	instrument.GetInstrumenter(ctx).EmitBusinessEvent(ctx, "delete", m.Name(), key, nil)
	span.SetStatus("ok")
	return nil
}

// Execute runs a command model: the values are applied, the command
// validated, then its registered handler called.
func (p *Portal) Execute(ctx context.Context, model string, values map[string]any, id rules.Identity) (*Instance, error) {
	ctx, span := startSpan(ctx, "portal.execute", model)
	defer span.End()

	m, err := p.Model(model)
	if err != nil {
		return nil, fail(span, err)
	}
	if !m.IsCommand() {
		return nil, fail(span, fmt.Errorf("execute %s: %w", model, ErrNotCommand))
	}
	if err := p.authorize(ctx, m, id, rules.ExecuteCommand, rules.NoTarget); err != nil {
		return nil, fail(span, err)
	}

	obj := NewInstance(m, id)
	if err := obj.Apply(values); err != nil {
		return nil, fail(span, err)
	}
	if err := p.validate(ctx, obj); err != nil {
		return nil, fail(span, err)
	}
	if !obj.IsValid() {
		return nil, fail(span, rules.NewValidationError(obj.broken.Output(), ""))
	}

	p.mu.RLock()
	fn := p.commands[model]
	p.mu.RUnlock()
	if fn == nil {
		return nil, fail(span, fmt.Errorf("command %s: %w", model, ErrNoHandler))
	}
	if err := fn(ctx, obj); err != nil {
		return nil, fail(span, err)
	}
	instrument.GetInstrumenter(ctx).EmitBusinessEvent(ctx, "execute", m.Name(), "", nil)
	span.SetStatus("ok")
	return obj, nil
}

// Call fetches an instance and runs one of its business methods. Changes the
// method makes are saved.
func (p *Portal) Call(ctx context.Context, model, key, method string, args map[string]any, id rules.Identity) (any, *Instance, error) {
	ctx, span := startSpan(ctx, "portal.call", model)
	defer span.End()
	span.SetModel(model, key)
	span.SetMetadata("method", method)

	obj, err := p.Fetch(ctx, model, key, id)
	if err != nil {
		return nil, nil, fail(span, err)
	}
	if !obj.model.HasMethod(method) {
		return nil, nil, fail(span, &rules.ArgumentError{Param: "method", Reason: fmt.Sprintf("%s has no method %q", model, method)})
	}
	if err := p.authorize(ctx, obj.model, id, rules.ExecuteMethod, rules.MethodTarget(method)); err != nil {
		return nil, nil, fail(span, err)
	}

	p.mu.RLock()
	fn := p.methods[methodKey{model, method}]
	p.mu.RUnlock()
	if fn == nil {
		return nil, nil, fail(span, fmt.Errorf("method %s.%s: %w", model, method, ErrNoHandler))
	}
	result, err := fn(ctx, obj, args)
	if err != nil {
		return nil, nil, fail(span, err)
	}
	if obj.state == StateDirty || obj.state == StateRemoved {
		if err := p.Save(ctx, obj); err != nil {
			return nil, nil, fail(span, err)
		}
	}
	span.SetStatus("ok")
	return result, obj, nil
}

// authorize checks an object-level action. A denial under a non-throwing
// behavior becomes a *DeniedError carrying the recorded broken rules.
func (p *Portal) authorize(ctx context.Context, m *metadata.Model, id rules.Identity, a rules.Action, t rules.Target) error {
	_, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rules", "rules.authorize")
	defer span.End()
	span.SetModel(m.Name(), "")
	span.SetMetadata("action", a.String())

	list := rules.NewBrokenRuleList(m.Name())
	actx, err := rules.NewAuthorizationContext(a, t, id, list)
	if err != nil {
		return fail(span, err)
	}
	allowed, err := m.Rules.HasPermission(actx)
	if err != nil {
		span.SetStatus("denied")
		return err
	}
	if !allowed {
		span.SetStatus("denied")
		return &DeniedError{Action: a, Model: m.Name(), Output: list.Output()}
	}
	span.SetStatus("ok")
	return nil
}

func (p *Portal) validate(ctx context.Context, obj *Instance) error {
	_, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rules", "rules.validate")
	defer span.End()
	span.SetModel(obj.model.Name(), obj.Key())

	if err := obj.Validate(); err != nil {
		return fail(span, fmt.Errorf("validate %s: %w", obj.model.Name(), err))
	}
	span.SetMetadata("broken_rules", obj.broken.Count())
	if obj.IsValid() {
		span.SetStatus("ok")
	} else {
		span.SetStatus("invalid")
	}
	return nil
}

func startSpan(ctx context.Context, action, model string) (context.Context, instrument.Span) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "portal", action)
	span.SetModel(model, "")
	return ctx, span
}

func fail(span instrument.Span, err error) error {
	span.SetStatus("error")
	return err
}
