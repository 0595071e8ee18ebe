package params

import (
	"bytes"
	"fmt"
	"strconv"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// TemplateEntry renders one SeisComP parameter. The first alternative that
// renders wins; an entry with no renderable alternative is omitted.
type TemplateEntry struct {
	Name      string
	Templates []string
}

// Param is one rendered name/value pair.
type Param struct {
	Name  string
	Value string
}

// DefaultTable maps tuned parameters onto scautopick configuration keys.
var DefaultTable = []TemplateEntry{
	{Name: "detecStream", Templates: []string{`{{.ch}}`}},
	{Name: "detecLocid", Templates: []string{`{{.loc}}`}},
	{Name: "detecFilter", Templates: []string{
		`RMHP(10)>>ITAPER(30)>>BW(4,{{.p_fmin}},{{.p_fmax}})>>STALTA({{printf "%.2f" .p_sta}},{{printf "%.2f" .p_lta}})`,
	}},
	{Name: "trigOn", Templates: []string{`{{.trig_on}}`}},
	{Name: "trigOff", Templates: []string{`1`}},
	{Name: "timeCorr", Templates: []string{`{{.p_timecorr}}`}},
	{Name: "picker", Templates: []string{`AIC`}},
	{Name: "picker.AIC.minSNR", Templates: []string{`{{.p_snr}}`}},
	{Name: "picker.AIC.filter", Templates: []string{
		`{{if not (positive .aic_fwidth)}}{{fail "aic filter disabled"}}{{end}}ITAPER(1)>>BW(4,{{.aic_fmin}},{{.aic_fmax}})`,
		`{{.picker_aic_filter}}`,
	}},
	{Name: "spicker", Templates: []string{`S-L2`}},
	{Name: "spicker.L2.minSNR", Templates: []string{`{{.s_snr}}`}},
	{Name: "spicker.AIC.minSNR", Templates: []string{`{{.s_snr}}`}},
	{Name: "spicker.AIC.filter", Templates: []string{`ITAPER(1)>>BW(4,{{.s_fmin}},{{.s_fmax}})`}},
}

// FuncMap returns the template functions: sprig without environment
// access, plus positive.
func FuncMap() template.FuncMap {
	f := sprig.TxtFuncMap()
	delete(f, "env")
	delete(f, "expandenv")
	f["positive"] = positive
	return f
}

func positive(v any) bool {
	f, ok := Configuration{"v": unwrap(v)}.Float("v")
	return ok && f > 0
}

// pyFloat prints with a decimal point under {{.}} but still formats as a
// number under printf.
type pyFloat float64

func (f pyFloat) String() string { return formatFloat(float64(f)) }

func unwrap(v any) any {
	if f, ok := v.(pyFloat); ok {
		return float64(f)
	}
	return v
}

// templateData converts cfg for template execution.
func templateData(cfg Configuration) map[string]any {
	data := make(map[string]any, len(cfg))
	for k, v := range cfg {
		switch x := v.(type) {
		case float64:
			data[k] = pyFloat(x)
		case float32:
			data[k] = pyFloat(x)
		default:
			data[k] = v
		}
	}
	return data
}

// Compiled is a parsed template table.
type Compiled struct {
	entries []compiledEntry
}

type compiledEntry struct {
	name      string
	templates []*template.Template
}

// Compile parses every alternative of table. Missing keys fail the
// alternative at render time.
func Compile(table []TemplateEntry) (*Compiled, error) {
	c := &Compiled{}
	for _, e := range table {
		ce := compiledEntry{name: e.Name}
		for i, src := range e.Templates {
			t, err := template.New(e.Name + "#" + strconv.Itoa(i)).
				Option("missingkey=error").
				Funcs(FuncMap()).
				Parse(src)
			if err != nil {
				return nil, fmt.Errorf("parse template %s: %w", e.Name, err)
			}
			ce.templates = append(ce.templates, t)
		}
		c.entries = append(c.entries, ce)
	}
	return c, nil
}

// Render evaluates the table against cfg in table order.
func (c *Compiled) Render(cfg Configuration) []Param {
	data := templateData(cfg)
	var out []Param
	var buf bytes.Buffer
	for _, e := range c.entries {
		for _, t := range e.templates {
			buf.Reset()
			if err := t.Execute(&buf, data); err != nil {
				continue
			}
			out = append(out, Param{Name: e.name, Value: buf.String()})
			break
		}
	}
	return out
}

var defaultCompiled = func() *Compiled {
	c, err := Compile(DefaultTable)
	if err != nil {
		panic(err)
	}
	return c
}()

// Render evaluates DefaultTable against cfg.
func Render(cfg Configuration) []Param {
	return defaultCompiled.Render(cfg)
}

// Lookup returns the value of the named parameter.
func Lookup(ps []Param, name string) (string, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
