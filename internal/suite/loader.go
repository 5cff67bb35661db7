package suite

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"clustertest/internal/environment"
	"clustertest/internal/template"
	"clustertest/pkg/logging"
)

// FilePattern matches the base names of unit files.
var FilePattern = regexp.MustCompile(`^\d+.*\.ya?ml$`)

// Discover walks dir recursively and returns the unit files it contains in
// execution order: sorted by base name, ties broken by path.
func Discover(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read test directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("test path %s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if FilePattern.MatchString(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk test directory %s: %w", dir, err)
	}

	sort.Slice(files, func(i, j int) bool {
		bi, bj := filepath.Base(files[i]), filepath.Base(files[j])
		if bi != bj {
			return bi < bj
		}
		return files[i] < files[j]
	})
	return files, nil
}

// LoadFile decodes and validates a single unit file. Unknown fields are
// rejected.
func LoadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open unit file %s: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	var def Definition
	if err := decoder.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("unit file %s is empty", path)
		}
		return nil, fmt.Errorf("failed to parse unit file %s: %w", path, err)
	}
	def.Source = path

	if err := def.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid unit file %s: %w", path, err)
	}
	return &def, nil
}

// Load discovers and loads every unit file under dir. Any invalid file fails
// the whole load.
func Load(dir string) ([]*Definition, error) {
	files, err := Discover(dir)
	if err != nil {
		return nil, err
	}

	defs := make([]*Definition, 0, len(files))
	for _, file := range files {
		def, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	logging.Debug("Suite", "Loaded %d unit(s) from %s", len(defs), dir)
	return defs, nil
}

// Normalize validates the definition and adds the implicit dependency on the
// clients entry for units with steps.
func (d *Definition) Normalize() error {
	if d.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if d.WaitTime < 0 {
		return fmt.Errorf("wait_time must not be negative, got %d", d.WaitTime)
	}

	provides := make(map[string]bool, len(d.Provides))
	for _, name := range d.Provides {
		if name == "" {
			return fmt.Errorf("provides contains an empty name")
		}
		provides[name] = true
	}

	visible := make(map[string]bool, len(d.Requires)+len(d.Provides))
	for _, name := range d.Requires {
		if name == "" {
			return fmt.Errorf("requires contains an empty name")
		}
		visible[name] = true
	}

	engine := template.New()
	for i, step := range d.Do {
		if err := step.validate(engine, visible); err != nil {
			return fmt.Errorf("do step %d: %w", i+1, err)
		}
		if step.Bind != "" {
			if !provides[step.Bind] {
				return fmt.Errorf("do step %d: bind %q is not listed in provides", i+1, step.Bind)
			}
			visible[step.Bind] = true
		}
	}
	for i, step := range d.Check {
		if step.Bind != "" {
			return fmt.Errorf("check step %d: bind is only allowed in do steps", i+1)
		}
		if err := step.validate(engine, visible); err != nil {
			return fmt.Errorf("check step %d: %w", i+1, err)
		}
	}

	if len(d.Do)+len(d.Check) > 0 && !visible[environment.ClientsKey] {
		d.Requires = append([]string{environment.ClientsKey}, d.Requires...)
	}
	return nil
}

// validate checks a step and that its placeholders only reference visible
// names.
func (s Step) validate(engine *template.Engine, visible map[string]bool) error {
	if s.Tool == "" {
		return fmt.Errorf("tool must not be empty")
	}
	if s.Client < 0 {
		return fmt.Errorf("client must not be negative, got %d", s.Client)
	}

	referenced := engine.Variables([]interface{}{
		s.Args,
		s.Expect.ErrorContains,
		s.Expect.Contains,
		s.Expect.NotContains,
		s.Expect.JSONPath,
	})
	for _, name := range referenced {
		if !visible[name] {
			return fmt.Errorf("placeholder {{ %s }} references a name that is not in requires", name)
		}
	}
	return nil
}
