package rtde

import (
	"encoding/xml"
	"fmt"
	"os"
)

// RecipeField is one named, typed variable in an exchange recipe
type RecipeField struct {
	Name string
	Type VarType
}

// RecipeConfig holds the input and output recipes for one controller session
type RecipeConfig struct {
	Inputs  []RecipeField
	Outputs []RecipeField
}

type xmlField struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type xmlRecipe struct {
	Key    string     `xml:"key,attr"`
	Fields []xmlField `xml:"field"`
}

type xmlConfig struct {
	XMLName xml.Name    `xml:"rtde_config"`
	Recipes []xmlRecipe `xml:"recipe"`
}

// LoadRecipe reads and parses a recipe configuration file
func LoadRecipe(path string) (RecipeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RecipeConfig{}, fmt.Errorf("failed to read recipe file: %v", err)
	}
	cfg, err := ParseRecipe(data)
	if err != nil {
		return RecipeConfig{}, fmt.Errorf("failed to parse recipe file %s: %v", path, err)
	}
	return cfg, nil
}

// ParseRecipe parses a recipe configuration document
func ParseRecipe(data []byte) (RecipeConfig, error) {
	var doc xmlConfig
	if err := xml.Unmarshal(data, &doc); err != nil {
		return RecipeConfig{}, err
	}

	var cfg RecipeConfig
	seenKeys := make(map[string]bool)

	for _, rec := range doc.Recipes {
		if seenKeys[rec.Key] {
			return RecipeConfig{}, fmt.Errorf("duplicate recipe key %q", rec.Key)
		}
		seenKeys[rec.Key] = true

		fields, err := parseRecipeFields(rec)
		if err != nil {
			return RecipeConfig{}, err
		}

		switch rec.Key {
		case "in":
			cfg.Inputs = fields
		case "out":
			cfg.Outputs = fields
		default:
			return RecipeConfig{}, fmt.Errorf("unknown recipe key %q, want \"in\" or \"out\"", rec.Key)
		}
	}

	if len(cfg.Inputs) == 0 {
		return RecipeConfig{}, fmt.Errorf("recipe defines no input fields")
	}
	if len(cfg.Outputs) == 0 {
		return RecipeConfig{}, fmt.Errorf("recipe defines no output fields")
	}

	return cfg, nil
}

func parseRecipeFields(rec xmlRecipe) ([]RecipeField, error) {
	fields := make([]RecipeField, 0, len(rec.Fields))
	seen := make(map[string]bool)

	for _, f := range rec.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("recipe %q has a field with no name", rec.Key)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("recipe %q lists field %q twice", rec.Key, f.Name)
		}
		seen[f.Name] = true

		t, ok := ParseVarType(f.Type)
		if !ok {
			return nil, fmt.Errorf("recipe %q field %q has unknown type %q", rec.Key, f.Name, f.Type)
		}
		fields = append(fields, RecipeField{Name: f.Name, Type: t})
	}

	return fields, nil
}

// InputNames returns the input field names in recipe order
func (c RecipeConfig) InputNames() []string {
	return fieldNames(c.Inputs)
}

// OutputNames returns the output field names in recipe order
func (c RecipeConfig) OutputNames() []string {
	return fieldNames(c.Outputs)
}

func fieldNames(fields []RecipeField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
