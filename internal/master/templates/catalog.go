package templates

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"androcompute/pkg/model"
)

// DefaultType is used when a submission names a type the catalog lacks.
const DefaultType = "hash_file"

// Template is a predefined job: the body a worker will receive for a type.
type Template struct {
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description"`
	Body        string `yaml:"body" json:"body"`
}

func (t Template) Validate() error {
	if strings.TrimSpace(t.Type) == "" {
		return errors.New("template type is required")
	}
	if _, err := model.ParseBody(t.Body); err != nil {
		return fmt.Errorf("template %s: %w", t.Type, err)
	}
	return nil
}

var builtins = []Template{
	{Type: "hash_file", Description: "Calculate MD5 hash of sample data", Body: "md5?data=androcompute"},
	{Type: "calculate_pi", Description: "Calculate Pi to 10 digits", Body: "pi?digits=10"},
	{Type: "process_data", Description: "Process numerical data", Body: "sum_squares?n=1000"},
	{Type: "leibniz_pi", Description: "Approximate Pi with the Leibniz series", Body: "leibniz_pi?terms=1000000"},
	{Type: "digest", Description: "MD5 and SHA256 of sample text", Body: "digest?data=AndroCompute+Distributed+Computing+Platform"},
	{Type: "fibonacci", Description: "Calculate the 20th Fibonacci number", Body: "fibonacci?n=20"},
	{Type: "prime_checker", Description: "List primes up to 50", Body: "primes?limit=50"},
	{Type: "matrix_multiply", Description: "Multiply two 3x3 matrices", Body: "matrix_multiply?size=3"},
	{Type: "word_frequency", Description: "Top 10 word frequencies of sample text", Body: "word_frequency?top=10"},
	{Type: "series_sum", Description: "Sum of 1/2^i for i up to 10", Body: "series_sum?terms=11"},
	{Type: "string_operations", Description: "String analysis of sample text", Body: "string_stats?text=AndroCompute+Distributed+Computing+Platform"},
}

// Catalog resolves job types to templates. Safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	byType map[string]Template
}

// New returns a catalog holding the builtin templates.
func New() *Catalog {
	c := &Catalog{byType: make(map[string]Template, len(builtins))}
	for _, t := range builtins {
		c.byType[t.Type] = t
	}
	return c
}

// Add inserts or replaces a template.
func (c *Catalog) Add(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType[t.Type] = t
	return nil
}

// Lookup returns the template registered for jobType.
func (c *Catalog) Lookup(jobType string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byType[jobType]
	return t, ok
}

// Resolve returns the template for jobType, falling back to DefaultType.
// The returned template keeps the requested type so the job records what
// was asked for.
func (c *Catalog) Resolve(jobType string) (Template, bool) {
	if t, ok := c.Lookup(jobType); ok {
		return t, true
	}
	c.mu.RLock()
	t := c.byType[DefaultType]
	c.mu.RUnlock()
	if jobType != "" {
		t.Type = jobType
	}
	return t, false
}

func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byType))
	for k := range c.byType {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fileFormat struct {
	Templates []Template `yaml:"templates"`
}

// LoadFile merges templates from a YAML file of the form:
//
//	templates:
//	  - type: word_count
//	    description: Count words
//	    body: "word_frequency?top=3"
func (c *Catalog) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read templates file: %w", err)
	}
	return c.Load(data)
}

func (c *Catalog) Load(data []byte) (int, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse templates: %w", err)
	}
	for _, t := range f.Templates {
		if err := t.Validate(); err != nil {
			return 0, err
		}
	}
	for _, t := range f.Templates {
		_ = c.Add(t)
	}
	return len(f.Templates), nil
}
