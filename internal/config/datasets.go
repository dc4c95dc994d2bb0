package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// LoadDatasets reads and validates the ordered dataset descriptor list.
// Descriptors drive the whole pipeline: adding a dataset means adding an
// entry here, not writing code.
func LoadDatasets(filePath string) ([]models.DatasetDescriptor, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read datasets file '%s': %w", filePath, err)
	}

	var doc struct {
		Datasets []models.DatasetDescriptor `yaml:"datasets"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse datasets file '%s': %w", filePath, err)
	}
	if len(doc.Datasets) == 0 {
		return nil, fmt.Errorf("datasets file '%s' declares no datasets", filePath)
	}

	seen := make(map[string]bool, len(doc.Datasets))
	for i := range doc.Datasets {
		ds := &doc.Datasets[i]
		if err := validateDescriptor(ds); err != nil {
			return nil, fmt.Errorf("dataset %q: %w", ds.Name, err)
		}
		if seen[ds.Name] {
			return nil, fmt.Errorf("duplicate dataset name %q", ds.Name)
		}
		seen[ds.Name] = true
	}
	return doc.Datasets, nil
}

func validateDescriptor(ds *models.DatasetDescriptor) error {
	if ds.Name == "" {
		return fmt.Errorf("name is required")
	}
	if ds.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if len(ds.Schema) == 0 {
		return fmt.Errorf("schema is required")
	}
	if ds.PrimaryKey == "" {
		return fmt.Errorf("primary_key is required")
	}
	if ds.Field(ds.PrimaryKey) == nil {
		return fmt.Errorf("primary_key %q is not a schema field", ds.PrimaryKey)
	}
	if ds.Incremental {
		if ds.WindowField == "" {
			return fmt.Errorf("incremental datasets need window_field")
		}
		if ds.WindowDays <= 0 {
			return fmt.Errorf("incremental datasets need window_days > 0")
		}
	}
	for _, field := range ds.CompareFields {
		if ds.Field(field) == nil {
			return fmt.Errorf("compare field %q is not a schema field", field)
		}
	}
	if ds.Fact && ds.FactTable == "" {
		return fmt.Errorf("fact datasets need fact_table")
	}
	for _, measure := range ds.Measures {
		if ds.Field(measure) == nil {
			return fmt.Errorf("measure %q is not a schema field", measure)
		}
	}
	for _, rule := range ds.Dimensions {
		if rule.Table == "" {
			return fmt.Errorf("dimension rule without table name")
		}
		switch rule.Kind {
		case "distinct":
			if rule.NaturalKey == "" {
				return fmt.Errorf("dimension %q: natural_key is required", rule.Table)
			}
			if ds.Field(rule.NaturalKey) == nil {
				return fmt.Errorf("dimension %q: natural_key %q is not a schema field", rule.Table, rule.NaturalKey)
			}
			for _, attr := range rule.Attributes {
				if ds.Field(attr) == nil {
					return fmt.Errorf("dimension %q: attribute %q is not a schema field", rule.Table, attr)
				}
			}
		case "calendar":
			if rule.FromField == "" || rule.ToField == "" {
				return fmt.Errorf("dimension %q: from_field and to_field are required", rule.Table)
			}
			if ds.Field(rule.FromField) == nil {
				return fmt.Errorf("dimension %q: from_field %q is not a schema field", rule.Table, rule.FromField)
			}
			if ds.Field(rule.ToField) == nil {
				return fmt.Errorf("dimension %q: to_field %q is not a schema field", rule.Table, rule.ToField)
			}
			// Calendar dimensions have no natural key on the fact rows;
			// a fact_key here would always resolve against nothing.
			if rule.FactKey != "" {
				return fmt.Errorf("dimension %q: calendar dimensions cannot declare fact_key", rule.Table)
			}
		default:
			return fmt.Errorf("dimension %q: unknown kind %q", rule.Table, rule.Kind)
		}
	}
	return nil
}
