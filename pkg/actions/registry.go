// Package actions holds the registry of named operations the decision
// source may invoke, their parameter schemas and the bookkeeping around each
// execution.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/logging"
)

var actionsLog *logging.Logger

func init() {
	var err error
	actionsLog, err = logging.NewLogger("actions")
	if err != nil {
		actionsLog.Warnf("Failed to initialize actions logger, using stderr fallback: %v", err)
	}
}

// Handler runs one action with validated parameters.
//
// A returned error that is a browser lifecycle error, or any error once ctx
// is done, ends the run. Other errors are reported as failed results.
type Handler func(ctx context.Context, params Params, ectx *ExecutionContext) (Result, error)

// Descriptor describes one registered action.
type Descriptor struct {
	Name        string
	Description string
	Params      Schema
	// Available optionally restricts the action to pages it accepts.
	Available func(page browser.Page) bool
	// Domains restricts the action to pages on these hosts.
	Domains []string
	Handler Handler

	// Safe is filled in from the registry's classification.
	Safe bool
}

// Recorder receives one observation per executed action.
type Recorder interface {
	ActionExecuted(name, code string, elapsed time.Duration)
}

type entry struct {
	Descriptor
	matcher *browser.DomainMatcher
}

// Registry is a set of actions. It is safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	actions        map[string]*entry
	classification *Classification
	log            *logging.Logger
	metrics        Recorder
}

// Option configures a Registry.
type Option func(*Registry)

// WithClassification replaces the embedded safe/mutating table.
func WithClassification(c *Classification) Option {
	return func(r *Registry) {
		if c != nil {
			r.classification = c
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics records every execution.
func WithMetrics(m Recorder) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		actions:        make(map[string]*entry),
		classification: DefaultClassification(),
		log:            actionsLog,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an action.
func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("action name cannot be empty")
	}
	if d.Handler == nil {
		return fmt.Errorf("action %s has no handler", d.Name)
	}
	for _, req := range d.Params.Required {
		if _, ok := d.Params.Properties[req]; !ok {
			return fmt.Errorf("action %s requires undeclared parameter %q", d.Name, req)
		}
	}
	for name, p := range d.Params.Properties {
		if !knownType(p.Type) {
			return fmt.Errorf("action %s parameter %q has unknown type %q", d.Name, name, p.Type)
		}
	}

	e := &entry{Descriptor: d}
	if len(d.Domains) > 0 {
		m, err := browser.NewDomainMatcher(d.Domains)
		if err != nil {
			return fmt.Errorf("action %s: %w", d.Name, err)
		}
		e.matcher = m
		e.Domains = m.Patterns()
	}
	e.Safe = r.classification.IsSafe(d.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, d.Name)
	}
	r.actions[d.Name] = e
	return nil
}

// MustRegister is Register for start-up code; it panics on error.
func (r *Registry) MustRegister(descriptors ...Descriptor) {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

func knownType(t string) bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

func (r *Registry) get(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[name]
	return e, ok
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	e, ok := r.get(name)
	if !ok {
		return Descriptor{}, false
	}
	return e.Descriptor, true
}

// Names returns every registered action name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAvailable reports whether name may run on page. An action without
// domains or predicate is always available.
func (r *Registry) IsAvailable(name string, page browser.Page) bool {
	e, ok := r.get(name)
	if !ok {
		return false
	}
	return e.availableOn(page)
}

func (e *entry) availableOn(page browser.Page) (ok bool) {
	if e.matcher == nil && e.Available == nil {
		return true
	}
	if e.matcher != nil {
		if page == nil {
			return false
		}
		u := page.URL()
		if browser.IsNewTabURL(u) || !e.matcher.Allowed(u) {
			return false
		}
	}
	if e.Available == nil {
		return true
	}

	defer func() {
		if p := recover(); p != nil {
			actionsLog.Warnf("availability check for %s panicked: %v", e.Name, p)
			ok = false
		}
	}()
	return e.Available(page)
}

// Available returns the descriptors available on page, sorted by name.
func (r *Registry) Available(page browser.Page) []Descriptor {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.actions))
	for _, e := range r.actions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		if e.availableOn(page) {
			out = append(out, e.Descriptor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildSchemaForPage returns the decision schema restricted to the actions
// available on page.
func (r *Registry) BuildSchemaForPage(page browser.Page) PageSchema {
	return PageSchema{actions: r.Available(page)}
}

// PromptDescription lists the available actions, one per line.
func (r *Registry) PromptDescription(page browser.Page) string {
	var b strings.Builder
	for _, d := range r.Available(page) {
		b.WriteString("- ")
		b.WriteString(d.Name)
		b.WriteString(" ")
		b.WriteString(describeParams(d.Params))
		if d.Description != "" {
			b.WriteString(": ")
			b.WriteString(d.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// describeParams renders {index: integer, amount?: integer}.
func describeParams(s Schema) string {
	names := s.Names()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		p := s.Properties[name]
		opt := "?"
		if s.isRequired(name) {
			opt = ""
		}
		typ := p.Type
		if len(p.Enum) > 0 {
			typ = strings.Join(p.Enum, "|")
		}
		parts = append(parts, fmt.Sprintf("%s%s: %s", name, opt, typ))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// PageSchema is the tagged-union schema of one decision: an object whose
// "action" array holds single-key objects naming an available action.
type PageSchema struct {
	actions []Descriptor
}

// Names returns the action names in the schema, sorted.
func (s PageSchema) Names() []string {
	names := make([]string, len(s.actions))
	for i, d := range s.actions {
		names[i] = d.Name
	}
	return names
}

// Has reports whether name is in the schema.
func (s PageSchema) Has(name string) bool {
	_, ok := s.lookup(name)
	return ok
}

func (s PageSchema) lookup(name string) (Descriptor, bool) {
	i := sort.Search(len(s.actions), func(i int) bool { return s.actions[i].Name >= name })
	if i < len(s.actions) && s.actions[i].Name == name {
		return s.actions[i], true
	}
	return Descriptor{}, false
}

// Normalize validates inv against the schema, returning it with aliases
// renamed and values coerced.
func (s PageSchema) Normalize(inv Invocation) (Invocation, error) {
	d, ok := s.lookup(inv.Name)
	if !ok {
		return inv, &ValidationError{Action: inv.Name, Reason: "action is not available on this page"}
	}
	params, err := d.Params.Validate(inv.Name, inv.Params)
	if err != nil {
		return inv, err
	}
	return Invocation{Name: inv.Name, Params: params}, nil
}

// MarshalJSON renders the schema deterministically.
func (s PageSchema) MarshalJSON() ([]byte, error) {
	variants := make([]any, 0, len(s.actions))
	for _, d := range s.actions {
		variants = append(variants, map[string]any{
			"type":       TypeObject,
			"properties": map[string]any{d.Name: d.Params},
			"required":   []string{d.Name},
		})
	}
	return json.Marshal(map[string]any{
		"type": TypeObject,
		"properties": map[string]any{
			"action": map[string]any{
				"type":  TypeArray,
				"items": map[string]any{"anyOf": variants},
			},
		},
		"required": []string{"action"},
	})
}

// Execute runs one action.
//
// Failures the decision source can react to (unknown action, bad params,
// unavailable action, handler errors and panics) come back as failed
// results. Only lifecycle errors and cancellation are returned as error.
func (r *Registry) Execute(ctx context.Context, name string, rawParams map[string]any, ectx *ExecutionContext) (res Result, err error) {
	start := time.Now()
	defer func() {
		code := res.ErrorCode
		if err != nil {
			code = "lifecycle"
		}
		if r.metrics != nil {
			r.metrics.ActionExecuted(name, code, time.Since(start))
		}
	}()

	e, ok := r.get(name)
	if !ok {
		return Fail(CodeUnknownAction, "unknown action %q (available: %s)", name, strings.Join(r.Names(), ", ")), nil
	}
	if !e.availableOn(ectx.page()) {
		return Fail(CodeNotAvailable, "action %s is not available on this page", name), nil
	}

	params, verr := e.Params.Validate(name, rawParams)
	if verr != nil {
		return Fail(CodeValidation, "%v", verr), nil
	}

	session := ectx.session()
	track := session != nil && !e.Safe
	var before string
	if track {
		var serr error
		before, serr = session.ChangeSignature(ctx)
		if serr != nil {
			if browser.IsLifecycleError(serr) {
				return Result{}, serr
			}
			r.log.Debugf("signature before %s failed: %v", name, serr)
			before = ""
		}
	}

	res, err = r.invoke(ctx, e, params, ectx)
	if track {
		r.afterMutation(ctx, session, name, before)
	}
	if err != nil {
		if browser.IsLifecycleError(err) || ctx.Err() != nil {
			return Result{}, err
		}
		var ve *ValidationError
		if errors.As(err, &ve) {
			res = Fail(CodeValidation, "%v", ve)
		} else {
			res = Fail(CodeActionError, "%s failed: %v", name, err)
		}
		err = nil
	}

	if !res.Success && res.ErrorCode == "" {
		res.ErrorCode = CodeActionError
	}
	if verr := res.Validate(); verr != nil {
		res = Fail(CodeInvalidResult, "action %s returned an invalid result: %v", name, verr)
	}
	r.log.Debugf("action %s: success=%t code=%s", name, res.Success, res.ErrorCode)
	return res, nil
}

func (r *Registry) invoke(ctx context.Context, e *entry, params Params, ectx *ExecutionContext) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("action %s panicked: %v", e.Name, p)
			res, err = Fail(CodeActionPanic, "action %s panicked: %v", e.Name, p), nil
		}
	}()
	return e.Handler(ctx, params, ectx)
}

// afterMutation invalidates the session's cache when the page changed or
// its signature could not be taken.
func (r *Registry) afterMutation(ctx context.Context, session SessionHandle, name, before string) {
	after, err := session.ChangeSignature(ctx)
	switch {
	case err != nil:
		r.log.Debugf("signature after %s failed, invalidating: %v", name, err)
	case before == "" || after != before:
		r.log.Debugf("%s changed the page, invalidating", name)
	default:
		return
	}
	session.Invalidate()
}
