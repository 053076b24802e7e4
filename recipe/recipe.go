package recipe

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/andybalholm/cascadia"
)

// slugPattern constrains recipe slugs and endpoint names.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Action types a recipe endpoint may run before extraction.
const (
	ActionWait     = "wait"
	ActionClick    = "click"
	ActionScroll   = "scroll"
	ActionType     = "type"
	ActionSleep    = "sleep"
	ActionEvaluate = "evaluate"
)

// Pagination strategies.
const (
	PaginationPageParam   = "page_param"
	PaginationOffsetParam = "offset_param"
	PaginationNextLink    = "next_link"
)

// Field contexts.
const (
	ContextSelf        = "self"
	ContextNextSibling = "next_sibling"
	ContextParent      = "parent"
)

// Field transforms. TransformNone must be spelled explicitly in the
// recipe; an omitted transform defaults to strip.
const (
	TransformStrip       = "strip"
	TransformStripHTML   = "strip_html"
	TransformRegexInt    = "regex_int"
	TransformRegexFloat  = "regex_float"
	TransformISODate     = "iso_date"
	TransformAbsoluteURL = "absolute_url"
	TransformNone        = "none"
)

// Recipe is the validated, immutable description of one scrapeable
// site, loaded from recipe.yaml. Validate must succeed before a recipe
// reaches the engine; a recipe that fails validation is skipped.
type Recipe struct {
	Name        string               `yaml:"name"`
	Slug        string               `yaml:"slug"`
	BaseURL     string               `yaml:"base_url"`
	Description string               `yaml:"description"`
	Endpoints   map[string]*Endpoint `yaml:"endpoints"`

	// Scraper is the optional compiled-in custom scraper attached by
	// the registry after discovery. Not part of the YAML.
	Scraper Scraper `yaml:"-"`

	// Path is the recipe folder the YAML was loaded from.
	Path string `yaml:"-"`
}

// Endpoint is one scrapeable route of a recipe.
type Endpoint struct {
	URL           string      `yaml:"url"`
	Description   string      `yaml:"description"`
	RequiresQuery bool        `yaml:"requires_query"`
	Actions       []Action    `yaml:"actions"`
	Items         Items       `yaml:"items"`
	Pagination    Pagination  `yaml:"pagination"`
}

// Action is a tagged variant: Type selects which of the remaining
// fields are required, enforced at load time.
type Action struct {
	Type      string       `yaml:"type"`
	Selector  string       `yaml:"selector"`
	Timeout   int          `yaml:"timeout"` // ms, wait only
	Direction string       `yaml:"direction"`
	Amount    ScrollAmount `yaml:"amount"`
	Text      string       `yaml:"text"`
	Ms        int          `yaml:"ms"`
	Script    string       `yaml:"script"`
}

// ScrollAmount is either a pixel count or the literal "bottom".
type ScrollAmount struct {
	Bottom bool
	Pixels int
}

// UnmarshalYAML accepts an integer pixel count or the string "bottom".
func (a *ScrollAmount) UnmarshalYAML(unmarshal func(any) error) error {
	var pixels int
	if err := unmarshal(&pixels); err == nil {
		a.Pixels = pixels
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s != "bottom" {
		return fmt.Errorf("scroll amount must be a pixel count or \"bottom\", got %q", s)
	}
	a.Bottom = true
	return nil
}

// IsZero reports whether the amount was left unset.
func (a ScrollAmount) IsZero() bool {
	return !a.Bottom && a.Pixels == 0
}

// Items describes how repeated items are located on a page.
type Items struct {
	Container string            `yaml:"container"`
	Fields    map[string]*Field `yaml:"fields"`
}

// Field describes how one named value is extracted from a container.
type Field struct {
	Selector  string `yaml:"selector"`
	Attribute string `yaml:"attribute"` // default "text"
	Context   string `yaml:"context"`   // default "self"
	Transform string `yaml:"transform"` // default "strip"
	Optional  bool   `yaml:"optional"`
}

// Pagination selects the strategy used to walk result pages.
type Pagination struct {
	Type     string `yaml:"type"`
	Param    string `yaml:"param"`
	Selector string `yaml:"selector"`
	Start    *int   `yaml:"start"` // default 1
	Step     *int   `yaml:"step"`  // default 1
}

// StartValue returns the configured start or its default.
func (p *Pagination) StartValue() int {
	if p.Start == nil {
		return 1
	}
	return *p.Start
}

// StepValue returns the configured step or its default.
func (p *Pagination) StepValue() int {
	if p.Step == nil {
		return 1
	}
	return *p.Step
}

// Validate checks the whole recipe and fills in field defaults.
// Invalid field combinations are rejected here, never at scrape time.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("recipe name is required")
	}
	if !slugPattern.MatchString(r.Slug) {
		return fmt.Errorf("recipe slug %q must match %s", r.Slug, slugPattern)
	}
	if r.BaseURL == "" {
		return fmt.Errorf("recipe %q: base_url is required", r.Slug)
	}
	if _, err := url.Parse(r.BaseURL); err != nil {
		return fmt.Errorf("recipe %q: invalid base_url: %w", r.Slug, err)
	}
	if len(r.Endpoints) == 0 {
		return fmt.Errorf("recipe %q: at least one endpoint must be defined", r.Slug)
	}
	for name, ep := range r.Endpoints {
		if !slugPattern.MatchString(name) {
			return fmt.Errorf("recipe %q: endpoint name %q must match %s", r.Slug, name, slugPattern)
		}
		if err := ep.validate(); err != nil {
			return fmt.Errorf("recipe %q: endpoint %q: %w", r.Slug, name, err)
		}
	}
	return nil
}

func (e *Endpoint) validate() error {
	if e.URL == "" {
		return fmt.Errorf("url is required")
	}
	for i := range e.Actions {
		if err := e.Actions[i].validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	if err := e.Items.validate(); err != nil {
		return err
	}
	return e.Pagination.validate()
}

func (a *Action) validate() error {
	switch a.Type {
	case ActionWait, ActionClick:
		if err := validSelector(a.Selector); err != nil {
			return fmt.Errorf("%s action: %w", a.Type, err)
		}
	case ActionType:
		if err := validSelector(a.Selector); err != nil {
			return fmt.Errorf("type action: %w", err)
		}
		if a.Text == "" {
			return fmt.Errorf("type action requires text")
		}
	case ActionSleep:
		if a.Ms <= 0 {
			return fmt.Errorf("sleep action requires ms > 0")
		}
	case ActionEvaluate:
		if a.Script == "" {
			return fmt.Errorf("evaluate action requires script")
		}
	case ActionScroll:
		if a.Amount.IsZero() {
			return fmt.Errorf("scroll action requires amount")
		}
		if !a.Amount.Bottom {
			if a.Direction != "down" && a.Direction != "up" {
				return fmt.Errorf("scroll action requires direction \"down\" or \"up\"")
			}
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

func (it *Items) validate() error {
	if err := validSelector(it.Container); err != nil {
		return fmt.Errorf("items.container: %w", err)
	}
	if len(it.Fields) == 0 {
		return fmt.Errorf("items.fields must define at least one field")
	}
	for name, f := range it.Fields {
		if err := f.validate(); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

func (f *Field) validate() error {
	// An empty selector means "use the context root itself".
	if f.Selector != "" {
		if _, err := cascadia.Parse(f.Selector); err != nil {
			return fmt.Errorf("invalid selector %q: %w", f.Selector, err)
		}
	}
	if f.Attribute == "" {
		f.Attribute = "text"
	}
	switch f.Context {
	case "":
		f.Context = ContextSelf
	case ContextSelf, ContextNextSibling, ContextParent:
	default:
		return fmt.Errorf("unknown context %q", f.Context)
	}
	switch f.Transform {
	case "":
		f.Transform = TransformStrip
	case TransformStrip, TransformStripHTML, TransformRegexInt, TransformRegexFloat,
		TransformISODate, TransformAbsoluteURL, TransformNone:
	default:
		return fmt.Errorf("unknown transform %q", f.Transform)
	}
	return nil
}

func (p *Pagination) validate() error {
	switch p.Type {
	case PaginationPageParam, PaginationOffsetParam:
		if p.Param == "" {
			return fmt.Errorf("pagination type %q requires param", p.Type)
		}
	case PaginationNextLink:
		if err := validSelector(p.Selector); err != nil {
			return fmt.Errorf("pagination type next_link: %w", err)
		}
	default:
		return fmt.Errorf("unknown pagination type %q", p.Type)
	}
	if p.StartValue() < 0 {
		return fmt.Errorf("pagination start must be >= 0")
	}
	if p.StepValue() <= 0 {
		return fmt.Errorf("pagination step must be > 0")
	}
	return nil
}

// validSelector requires a non-empty selector that cascadia can compile.
func validSelector(selector string) error {
	if selector == "" {
		return fmt.Errorf("selector is required")
	}
	if _, err := cascadia.Parse(selector); err != nil {
		return fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return nil
}
