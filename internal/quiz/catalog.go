package quiz

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultCatalogYAML []byte

// Option is one selectable answer. Key is what gets stored on the record.
type Option struct {
	Key      string `yaml:"key" json:"key"`
	Feedback string `yaml:"feedback" json:"feedback"`
}

// Question is a single catalog entry.
type Question struct {
	ID       string   `yaml:"id" json:"id"`
	Category string   `yaml:"category" json:"category"`
	Text     string   `yaml:"text" json:"text"`
	Options  []Option `yaml:"options" json:"options"`
}

// Option returns the option with key.
func (q Question) Option(key string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.Key == key {
			return opt, true
		}
	}
	return Option{}, false
}

// Catalog is the ordered question list.
type Catalog struct {
	Questions []Question `yaml:"questions" json:"questions"`
}

// FeedbackItem pairs a stored answer with its question and feedback text.
type FeedbackItem struct {
	QuestionID string `json:"questionId"`
	Category   string `json:"category"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Feedback   string `json:"feedback"`
}

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
})

// DefaultCatalog returns the built-in questionnaire.
func DefaultCatalog() (*Catalog, error) {
	return loadDefault()
}

// LoadCatalog reads a catalog from path, falling back to the built-in
// questionnaire when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question catalog: %w", err)
	}
	catalog, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("question catalog %s: %w", path, err)
	}
	return catalog, nil
}

// ParseCatalog decodes and validates a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("decode question catalog: %w", err)
	}
	for i := range catalog.Questions {
		q := &catalog.Questions[i]
		q.ID = strings.TrimSpace(q.ID)
		q.Category = strings.TrimSpace(q.Category)
		q.Text = strings.TrimSpace(q.Text)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Validate checks that the catalog can drive a questionnaire.
func (c *Catalog) Validate() error {
	if c == nil || len(c.Questions) == 0 {
		return errors.New("question catalog is empty")
	}
	seen := make(map[string]struct{}, len(c.Questions))
	for i, q := range c.Questions {
		if q.ID == "" {
			return fmt.Errorf("question %d has no id", i+1)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.Text == "" {
			return fmt.Errorf("question %q has no text", q.ID)
		}
		if len(q.Options) == 0 {
			return fmt.Errorf("question %q has no options", q.ID)
		}
		keys := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			if strings.TrimSpace(opt.Key) == "" {
				return fmt.Errorf("question %q has an option without a key", q.ID)
			}
			if _, dup := keys[opt.Key]; dup {
				return fmt.Errorf("question %q repeats option %q", q.ID, opt.Key)
			}
			keys[opt.Key] = struct{}{}
		}
	}
	return nil
}

// Len returns the number of questions.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Questions)
}

// Lookup finds a question by id.
func (c *Catalog) Lookup(id string) (Question, bool) {
	if c == nil {
		return Question{}, false
	}
	for _, q := range c.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Feedback resolves stored answers in catalog order. Answers for unknown
// questions are skipped; unknown option keys keep an empty feedback text.
func (c *Catalog) Feedback(answers map[string]string) []FeedbackItem {
	if c == nil || len(answers) == 0 {
		return nil
	}
	items := make([]FeedbackItem, 0, len(answers))
	for _, q := range c.Questions {
		key, ok := answers[q.ID]
		if !ok {
			continue
		}
		item := FeedbackItem{
			QuestionID: q.ID,
			Category:   q.Category,
			Question:   q.Text,
			Answer:     key,
		}
		if opt, ok := q.Option(key); ok {
			item.Feedback = opt.Feedback
		}
		items = append(items, item)
	}
	return items
}
