package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/miekg/dns"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

// SOA timers used when a spec leaves them unset
const (
	defaultRefresh = 3600
	defaultRetry   = 900
	defaultExpire  = 1209600
	defaultMinimum = 300
)

var zoneRecordTypes = map[string]bool{
	"A": true, "AAAA": true, "CNAME": true, "MX": true, "NS": true,
	"TXT": true, "SRV": true, "CAA": true, "PTR": true,
}

type dnsZoneRenderer struct {
	cfg Config
}

func (r *dnsZoneRenderer) Kind() types.Kind { return types.KindDNSZone }

func (r *dnsZoneRenderer) decode(key string, raw json.RawMessage) (*types.DNSZoneSpec, string, error) {
	var spec types.DNSZoneSpec
	if err := decodeSpec(raw, &spec); err != nil {
		return nil, "", err
	}
	domain, err := domainFor(key, spec.Domain)
	if err != nil {
		return nil, "", err
	}
	return &spec, domain, nil
}

func (r *dnsZoneRenderer) Validate(key string, raw json.RawMessage) error {
	spec, domain, err := r.decode(key, raw)
	if err != nil {
		return err
	}
	_, err = r.zone(domain, spec, 1)
	return err
}

func (r *dnsZoneRenderer) Render(rec *types.ResourceRecord) (*types.Artifact, error) {
	spec, domain, err := r.decode(rec.Key, rec.Spec)
	if err != nil {
		return nil, err
	}
	content, err := r.zone(domain, spec, uint32(rec.DesiredRevision))
	if err != nil {
		return nil, err
	}

	art := newArtifact(rec, types.ActionApply)
	art.WriteFile(r.path(domain), content, 0644)
	art.Command(expandArgv(r.cfg.ZoneReload, domain)...)
	return art, nil
}

func (r *dnsZoneRenderer) Teardown(rec *types.ResourceRecord) (*types.Artifact, error) {
	if err := validateDomain(rec.Key); err != nil {
		return nil, err
	}
	art := newArtifact(rec, types.ActionTeardown)
	art.RemoveFile(r.path(rec.Key))
	art.Command(expandArgv(r.cfg.ZoneReload, rec.Key)...)
	return art, nil
}

func (r *dnsZoneRenderer) path(domain string) string {
	return filepath.Join(r.cfg.ZoneDir, domain+".zone")
}

// zone renders the complete zone file. Every record is run through the zone
// parser, which both validates its data and normalizes it to one canonical
// presentation form.
func (r *dnsZoneRenderer) zone(domain string, spec *types.DNSZoneSpec, serial uint32) ([]byte, error) {
	origin := dns.Fqdn(domain)

	ttl := spec.TTL
	if ttl == 0 {
		ttl = r.cfg.DefaultTTL
	}
	if ttl == 0 {
		ttl = 3600
	}

	if spec.SOA.PrimaryNS == "" || spec.SOA.Hostmaster == "" {
		return nil, errors.ErrValidation.WithCausef("soa primary_ns and hostmaster are required")
	}
	mbox := strings.Replace(spec.SOA.Hostmaster, "@", ".", 1)
	for _, name := range []string{spec.SOA.PrimaryNS, mbox} {
		if _, ok := dns.IsDomainName(name); !ok {
			return nil, errors.ErrValidation.WithCausef("invalid soa name %q", name)
		}
	}

	soa := &dns.SOA{
		Hdr:     dns.RR_Header{Name: origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: ttl},
		Ns:      dns.Fqdn(spec.SOA.PrimaryNS),
		Mbox:    dns.Fqdn(mbox),
		Serial:  serial,
		Refresh: orDefault(spec.SOA.Refresh, defaultRefresh),
		Retry:   orDefault(spec.SOA.Retry, defaultRetry),
		Expire:  orDefault(spec.SOA.Expire, defaultExpire),
		Minttl:  orDefault(spec.SOA.Minimum, defaultMinimum),
	}

	var body strings.Builder
	for i, rec := range spec.Records {
		line, err := recordLine(rec, ttl)
		if err != nil {
			return nil, errors.ErrValidation.WithCausef("record %d: %v", i, err)
		}
		body.WriteString(line)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "; %s\n$ORIGIN %s\n$TTL %d\n%s\n", domain, origin, ttl, soa.String())

	zp := dns.NewZoneParser(strings.NewReader(body.String()), origin, domain+".zone")
	count := 0
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		out.WriteString(rr.String())
		out.WriteByte('\n')
		count++
	}
	if err := zp.Err(); err != nil {
		return nil, errors.ErrValidation.WithCausef("invalid zone data: %v", err)
	}
	if count != len(spec.Records) {
		return nil, errors.ErrValidation.WithCausef("zone parser produced %d records, expected %d", count, len(spec.Records))
	}
	return out.Bytes(), nil
}

func recordLine(rec types.DNSRecord, zoneTTL uint32) (string, error) {
	rrtype := strings.ToUpper(rec.Type)
	if !zoneRecordTypes[rrtype] {
		return "", fmt.Errorf("unsupported record type %q", rec.Type)
	}

	name := rec.Name
	if name == "" {
		name = "@"
	}
	if name != "@" {
		if _, ok := dns.IsDomainName(name); !ok || strings.ContainsAny(name, " \t;()") {
			return "", fmt.Errorf("invalid record name %q", rec.Name)
		}
	}

	value := strings.TrimSpace(rec.Value)
	if value == "" {
		return "", fmt.Errorf("value is required")
	}
	if err := singleLine("value", value); err != nil {
		return "", err
	}
	switch rrtype {
	case "TXT":
		if !strings.HasPrefix(value, `"`) {
			value = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value) + `"`
		}
	case "MX", "SRV":
		if rec.Priority != nil {
			value = fmt.Sprintf("%d %s", *rec.Priority, value)
		}
	}

	ttl := rec.TTL
	if ttl == 0 {
		ttl = zoneTTL
	}
	return fmt.Sprintf("%s %d IN %s %s\n", name, ttl, rrtype, value), nil
}

func orDefault(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}
