package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply resources from a manifest file",
	Long: `Submit the desired state of one or more resources from a YAML file.
Documents are separated by "---".

Examples:
  # A cron job; the key is derived from user, schedule and command
  kind: CronJob
  spec:
    user: alice
    schedule: "*/5 * * * *"
    command: /usr/bin/php backup.php
  ---
  kind: VHost
  key: example.com
  spec:
    docroot: /var/www/example`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required, - for stdin)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Manifest is one resource document of an apply file
type Manifest struct {
	Kind string                 `yaml:"kind"`
	Key  string                 `yaml:"key"`
	Spec map[string]interface{} `yaml:"spec"`
}

// Resource is a manifest resolved to what the API takes
type Resource struct {
	Kind types.Kind
	Key  string
	Spec json.RawMessage
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	var data []byte
	var err error
	if filename == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(filename)
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	resources, err := parseManifests(data)
	if err != nil {
		return err
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	failed := 0
	for _, res := range resources {
		rec, err := c.Submit(cmd.Context(), res.Kind, res.Key, res.Spec)
		if err != nil {
			failed++
			fmt.Printf("✗ %s/%s: %v\n", res.Kind, res.Key, err)
			continue
		}
		fmt.Printf("✓ %s/%s submitted (revision %d, %s)\n", rec.Kind, rec.Key, rec.DesiredRevision, rec.Status)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d resources rejected", failed, len(resources))
	}
	return nil
}

// parseManifests decodes every YAML document in data
func parseManifests(data []byte) ([]Resource, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var resources []Resource
	for i := 1; ; i++ {
		var m Manifest
		err := dec.Decode(&m)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse document %d: %w", i, err)
		}
		if m.Kind == "" && m.Spec == nil {
			continue
		}

		res, err := m.resolve()
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		resources = append(resources, res)
	}
	if len(resources) == 0 {
		return nil, errors.ErrValidation.WithCausef("manifest holds no resources")
	}
	return resources, nil
}

func (m Manifest) resolve() (Resource, error) {
	kind, err := parseKind(m.Kind)
	if err != nil {
		return Resource{}, err
	}
	if m.Spec == nil {
		return Resource{}, errors.ErrValidation.WithCausef("spec is required")
	}

	key := m.Key
	if key == "" {
		key = defaultKey(kind, m.Spec)
	}
	if key == "" {
		return Resource{}, errors.ErrValidation.WithCausef("key is required for %s", kind)
	}

	spec, err := json.Marshal(m.Spec)
	if err != nil {
		return Resource{}, errors.ErrValidation.WithCausef("spec cannot be encoded as JSON: %v", err)
	}
	return Resource{Kind: kind, Key: key, Spec: spec}, nil
}

// parseKind accepts both the wire name (cron_job) and the type name (CronJob)
func parseKind(s string) (types.Kind, error) {
	norm := func(v string) string { return strings.ToLower(strings.ReplaceAll(v, "_", "")) }
	for _, kind := range types.Kinds {
		if norm(string(kind)) == norm(s) {
			return kind, nil
		}
	}
	return "", errors.ErrUnsupported.WithCausef("unknown kind %q", s)
}

func defaultKey(kind types.Kind, spec map[string]interface{}) string {
	str := func(field string) string {
		v, _ := spec[field].(string)
		return v
	}
	switch kind {
	case types.KindCronJob:
		if str("user") == "" {
			return ""
		}
		return types.CronJobKey(str("user"), str("schedule"), str("command"))
	case types.KindContainerStack:
		return str("project")
	default:
		return str("domain")
	}
}
