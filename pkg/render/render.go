package render

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/miekg/dns"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

// Renderer is implemented once per resource kind
type Renderer interface {
	Kind() types.Kind

	// Validate checks a spec submitted under key without rendering it
	Validate(key string, spec json.RawMessage) error

	// Render builds the apply artifact for the record's desired spec
	Render(rec *types.ResourceRecord) (*types.Artifact, error)

	// Teardown builds the artifact that removes what Render installed
	Teardown(rec *types.ResourceRecord) (*types.Artifact, error)
}

// Registry dispatches on the closed set of kinds
type Registry struct {
	renderers map[types.Kind]Renderer
}

// NewRegistry creates a registry holding a renderer for every kind
func NewRegistry(cfg Config) *Registry {
	r := &Registry{renderers: make(map[types.Kind]Renderer)}
	for _, renderer := range []Renderer{
		&dnsZoneRenderer{cfg: cfg},
		&cronJobRenderer{},
		&vhostRenderer{cfg: cfg},
		&sslCertRenderer{cfg: cfg},
		&containerStackRenderer{cfg: cfg},
	} {
		r.renderers[renderer.Kind()] = renderer
	}
	return r
}

// Get returns the renderer for kind
func (r *Registry) Get(kind types.Kind) (Renderer, error) {
	renderer, ok := r.renderers[kind]
	if !ok {
		return nil, errors.ErrUnsupported.WithCausef("unknown kind %q", kind)
	}
	return renderer, nil
}

// Validate validates spec with the renderer of kind
func (r *Registry) Validate(kind types.Kind, key string, spec json.RawMessage) error {
	renderer, err := r.Get(kind)
	if err != nil {
		return err
	}
	if key == "" {
		return errors.ErrValidation.WithCausef("key is required")
	}
	return renderer.Validate(key, spec)
}

// Render builds the artifact for rec: a teardown for tombstoned records, an
// apply otherwise
func (r *Registry) Render(rec *types.ResourceRecord) (*types.Artifact, error) {
	renderer, err := r.Get(rec.Kind)
	if err != nil {
		return nil, err
	}
	if rec.Status == types.StatusDeleted {
		return renderer.Teardown(rec)
	}
	return renderer.Render(rec)
}

func newArtifact(rec *types.ResourceRecord, action types.Action) *types.Artifact {
	return &types.Artifact{Kind: rec.Kind, Key: rec.Key, Action: action}
}

// decodeSpec strictly decodes a JSON spec. Unknown fields are rejected so a
// typo never silently drops a setting.
func decodeSpec(spec json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(spec))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.ErrValidation.WithCausef("invalid spec: %v", err)
	}
	return nil
}

var hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// validateDomain accepts lowercase host names without a trailing dot. The
// name ends up in file paths, so the charset is stricter than DNS allows.
func validateDomain(domain string) error {
	if domain == "" {
		return errors.ErrValidation.WithCausef("domain is required")
	}
	if _, ok := dns.IsDomainName(domain); !ok || !hostnamePattern.MatchString(domain) {
		return errors.ErrValidation.WithCausef("invalid domain name %q", domain)
	}
	return nil
}

// domainFor resolves the domain of a spec keyed by domain: an empty spec
// domain takes the key, a different one is rejected
func domainFor(key, specDomain string) (string, error) {
	if specDomain != "" && specDomain != key {
		return "", errors.ErrValidation.WithCausef("spec domain %q does not match key %q", specDomain, key)
	}
	if err := validateDomain(key); err != nil {
		return "", err
	}
	return key, nil
}

// expandArgv substitutes {DOMAIN} in every argument of a configured hook
func expandArgv(argv []string, domain string) []string {
	if len(argv) == 0 {
		return nil
	}
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = strings.ReplaceAll(arg, "{DOMAIN}", domain)
	}
	return out
}

func singleLine(field, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return errors.ErrValidation.WithCausef("%s must be a single line", field)
	}
	return nil
}
