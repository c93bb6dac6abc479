// Package form renders the EV configuration inputs that get attached to the
// host page.
package form

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/raterudder/evconf/pkg/attach"
	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/types"
)

//go:embed templates
var templatesFS embed.FS

var (
	tmpl = template.Must(template.ParseFS(templatesFS, "templates/form.html"))
	css  = func() string {
		b, err := templatesFS.ReadFile("templates/style.css")
		if err != nil {
			panic(fmt.Errorf("failed to read form styles: %w", err))
		}
		return string(b)
	}()
)

// Layout selects which markup is rendered.
type Layout string

const (
	// Section is an inline block appended to the host's own config form.
	Section Layout = "section"
	// Panel is a floating button that opens a modal with its own save.
	Panel Layout = "panel"
)

// Spec describes one input.
type Spec struct {
	Key         string
	Label       string
	Help        string
	Placeholder string
	Numeric     bool
}

// Specs lists the inputs in display order.
var Specs = []Spec{
	{Key: types.KeyNumberOfEVLoads, Label: "Number of EV Loads", Help: "Number of electric vehicles to optimize (0 = disabled)", Numeric: true},
	{Key: types.KeyBatteryCapacity, Label: "Battery Capacity (Wh)", Help: "Battery capacity in Wh for each EV (e.g., [75000] for 75 kWh)"},
	{Key: types.KeyChargingEfficiency, Label: "Charging Efficiency", Help: "Charging efficiency (0-1) for each EV (e.g., [0.9] for 90%)"},
	{Key: types.KeyNominalChargingPower, Label: "Nominal Charging Power (W)", Help: "Maximum charging power in W for each EV (e.g., [11000] for 11 kW)"},
	{Key: types.KeyMinimumChargingPower, Label: "Minimum Charging Power (W)", Help: "Minimum charging power in W for each EV (e.g., [1380])"},
	{Key: types.KeyConsumptionEfficiency, Label: "Consumption Efficiency (kWh/km)", Help: "Energy consumption in kWh per km (e.g., [0.2] for 0.2 kWh/km)"},
}

type input struct {
	Spec
	Value string
}

// FormID is the id of the form every input is owned by. The form itself is
// appended to the body separately so it never ends up nested in a host form.
const FormID = "ev-config-form"

type view struct {
	FormID   string
	Action   string
	Message  string
	MaxLoads int
	Inputs   []input
}

// Options controls rendering.
type Options struct {
	// Action is where the form posts to.
	Action string
	// Message is shown above the inputs of the panel layout.
	Message string
}

// Render returns the body markup for layout with every input filled from
// fields. Inputs missing from fields are rendered with their default.
func Render(layout Layout, fields codec.Fields, opts Options) (string, error) {
	defaults := codec.NewMapFields()
	codec.Populate(defaults, nil)

	v := view{
		FormID:   FormID,
		Action:   opts.Action,
		Message:  opts.Message,
		MaxLoads: types.MaxEVLoads,
	}
	for _, s := range Specs {
		val, ok := fields.Value(s.Key)
		if !ok {
			val, _ = defaults.Value(s.Key)
		}
		in := input{Spec: s, Value: val}
		if !s.Numeric {
			in.Placeholder, _ = defaults.Value(s.Key)
		}
		v.Inputs = append(v.Inputs, in)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, string(layout), v); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", layout, err)
	}
	return buf.String(), nil
}

// Style returns the stylesheet shared by both layouts.
func Style() string {
	return "<style>" + css + "</style>"
}

// Markup renders layout together with its styles for the attach engine.
func Markup(layout Layout, fields codec.Fields, opts Options) (attach.Markup, error) {
	body, err := Render(layout, fields, opts)
	if err != nil {
		return attach.Markup{}, err
	}
	return attach.Markup{Style: Style(), Body: body}, nil
}

// Shell renders the empty form that owns the inputs.
func Shell(action string) (attach.Markup, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "shell", view{FormID: FormID, Action: action}); err != nil {
		return attach.Markup{}, fmt.Errorf("failed to render form shell: %w", err)
	}
	return attach.Markup{Body: buf.String()}, nil
}

// Candidates returns the insertion points used for layout.
func Candidates(layout Layout) []string {
	if layout == Section {
		return attach.PanelCandidates
	}
	return attach.ButtonCandidates
}

// Engines returns the attach engines that mount layout into doc: one for the
// inputs and one for the form shell, which always goes to the body.
func Engines(doc attach.Document, layout Layout, fields codec.Fields, opts Options, engineOpts ...attach.Option) ([]*attach.Engine, error) {
	ui, err := Markup(layout, fields, opts)
	if err != nil {
		return nil, err
	}
	shell, err := Shell(opts.Action)
	if err != nil {
		return nil, err
	}
	return []*attach.Engine{
		attach.NewEngine(doc, []string{"body"}, shell, engineOpts...),
		attach.NewEngine(doc, Candidates(layout), ui, engineOpts...),
	}, nil
}
