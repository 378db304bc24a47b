package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

// Data file names, looked up as <name>.yaml, <name>.yml or <name>.json.
const (
	incidentsFile = "incidents"
	reposFile     = "repos"
	kgraftFile    = "kgraft"
)

// Data holds the read-only release stream and target definitions.
type Data struct {
	// Incidents maps a target project to its settings templates.
	Incidents map[string][]model.Params
	// Targets are the fixed targets tested on the configured test service.
	Targets []model.RepoTarget
	// KGraft maps a live-patch target to extra job settings.
	KGraft map[string]model.Params
}

type repoEntry struct {
	Settings  []map[string]any  `yaml:"settings"`
	Repos     []string          `yaml:"repos"`
	Test      string            `yaml:"test"`
	Incidents map[string]string `yaml:"incidents"`
}

// LoadData reads the data files from dir. repos is keyed by test service URL;
// only the targets listed under testServiceURL are returned. A missing kgraft
// file is treated as empty.
func LoadData(dir, testServiceURL string) (*Data, error) {
	var incidents map[string][]map[string]any
	if err := readDoc(dir, incidentsFile, &incidents); err != nil {
		return nil, err
	}

	var repos map[string]map[string]repoEntry
	if err := readDoc(dir, reposFile, &repos); err != nil {
		return nil, err
	}

	var kgraft map[string]map[string]any
	if err := readDoc(dir, kgraftFile, &kgraft); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	data := &Data{
		Incidents: make(map[string][]model.Params, len(incidents)),
		KGraft:    make(map[string]model.Params, len(kgraft)),
	}

	for project, templates := range incidents {
		for _, raw := range templates {
			data.Incidents[project] = append(data.Incidents[project], model.ParamsFromAny(raw))
		}
	}

	for target, raw := range kgraft {
		data.KGraft[target] = model.ParamsFromAny(raw)
	}

	for project, entry := range lookupService(repos, testServiceURL) {
		target, err := entry.toTarget(project)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", reposFile, err)
		}
		data.Targets = append(data.Targets, target)
	}
	sort.Slice(data.Targets, func(i, j int) bool {
		return data.Targets[i].Project < data.Targets[j].Project
	})

	return data, nil
}

func (e repoEntry) toTarget(project string) (model.RepoTarget, error) {
	if len(e.Settings) == 0 {
		return model.RepoTarget{}, fmt.Errorf("target %s has no settings", project)
	}
	if len(e.Repos) == 0 {
		return model.RepoTarget{}, fmt.Errorf("target %s has no repos", project)
	}
	if e.Test == "" {
		return model.RepoTarget{}, fmt.Errorf("target %s has no test", project)
	}

	target := model.RepoTarget{
		Project:   project,
		Repos:     e.Repos,
		Test:      e.Test,
		Incidents: e.Incidents,
	}
	for _, raw := range e.Settings {
		target.Settings = append(target.Settings, model.ParamsFromAny(raw))
	}
	return target, nil
}

// lookupService finds the targets of a test service, ignoring a trailing
// slash on either side.
func lookupService(repos map[string]map[string]repoEntry, url string) map[string]repoEntry {
	want := strings.TrimRight(url, "/")
	for key, targets := range repos {
		if strings.TrimRight(key, "/") == want {
			return targets
		}
	}
	return nil
}

// readDoc decodes the first existing <name>.yaml, <name>.yml or <name>.json
// in dir into v. JSON documents are valid YAML.
func readDoc(dir, name string, v any) error {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(dir, name+ext)
		raw, err := os.ReadFile(path) // #nosec G304 - data dir is operator controlled
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("no %s data file in %s: %w", name, dir, fs.ErrNotExist)
}
