package render

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

var (
	projectPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)
	envKeyPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type containerStackRenderer struct {
	cfg Config
}

func (r *containerStackRenderer) Kind() types.Kind { return types.KindContainerStack }

func (r *containerStackRenderer) decode(key string, raw json.RawMessage) (*types.ContainerStackSpec, error) {
	var spec types.ContainerStackSpec
	if err := decodeSpec(raw, &spec); err != nil {
		return nil, err
	}
	if spec.Project != "" && spec.Project != key {
		return nil, errors.ErrValidation.WithCausef("spec project %q does not match key %q", spec.Project, key)
	}
	if !projectPattern.MatchString(key) {
		return nil, errors.ErrValidation.WithCausef("invalid project name %q", key)
	}
	spec.Project = key

	var compose struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(spec.Compose), &compose); err != nil {
		return nil, errors.ErrValidation.WithCausef("compose file is not valid YAML: %v", err)
	}
	if len(compose.Services) == 0 {
		return nil, errors.ErrValidation.WithCausef("compose file defines no services")
	}

	for k, v := range spec.Env {
		if !envKeyPattern.MatchString(k) {
			return nil, errors.ErrValidation.WithCausef("invalid env name %q", k)
		}
		if err := singleLine("env."+k, v); err != nil {
			return nil, err
		}
	}
	return &spec, nil
}

func (r *containerStackRenderer) Validate(key string, raw json.RawMessage) error {
	_, err := r.decode(key, raw)
	return err
}

func (r *containerStackRenderer) Render(rec *types.ResourceRecord) (*types.Artifact, error) {
	spec, err := r.decode(rec.Key, rec.Spec)
	if err != nil {
		return nil, err
	}
	composePath, envPath := r.paths(spec.Project)

	content := spec.Compose
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	art := newArtifact(rec, types.ActionApply)
	art.WriteFile(composePath, []byte(content), 0644)
	argv := []string{r.cfg.DockerPath, "compose", "-p", spec.Project, "-f", composePath}
	if len(spec.Env) > 0 {
		art.WriteFile(envPath, envFile(spec.Env), 0600)
		argv = append(argv, "--env-file", envPath)
	} else {
		art.RemoveFile(envPath)
	}
	art.Command(append(argv, "up", "-d", "--remove-orphans")...)
	return art, nil
}

func (r *containerStackRenderer) Teardown(rec *types.ResourceRecord) (*types.Artifact, error) {
	if !projectPattern.MatchString(rec.Key) {
		return nil, errors.ErrValidation.WithCausef("invalid project name %q", rec.Key)
	}
	composePath, envPath := r.paths(rec.Key)

	art := newArtifact(rec, types.ActionTeardown)
	art.Command(r.cfg.DockerPath, "compose", "-p", rec.Key, "down", "--remove-orphans")
	art.RemoveFile(composePath)
	art.RemoveFile(envPath)
	return art, nil
}

func (r *containerStackRenderer) paths(project string) (string, string) {
	dir := filepath.Join(r.cfg.StackDir, project)
	return filepath.Join(dir, "compose.yaml"), filepath.Join(dir, ".env")
}

func envFile(env map[string]string) []byte {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
