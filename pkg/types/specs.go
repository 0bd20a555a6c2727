package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CronJobKey derives the natural key of a crontab line from its owner,
// schedule and command
func CronJobKey(user, schedule, command string) string {
	normalized := strings.Join(strings.Fields(schedule), " ")
	sum := sha256.Sum256([]byte(user + ":" + normalized + ":" + command))
	return user + "-" + hex.EncodeToString(sum[:8])
}

// DNSZoneSpec is the complete desired content of one zone. The zone file is
// always regenerated from the full record list.
type DNSZoneSpec struct {
	Domain  string      `json:"domain,omitempty" yaml:"domain,omitempty"`
	TTL     uint32      `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	SOA     SOA         `json:"soa" yaml:"soa"`
	Records []DNSRecord `json:"records" yaml:"records"`
}

// SOA holds the start-of-authority fields. The serial is derived from the
// desired revision and is not part of the spec.
type SOA struct {
	PrimaryNS  string `json:"primary_ns" yaml:"primary_ns"`
	Hostmaster string `json:"hostmaster" yaml:"hostmaster"`
	Refresh    uint32 `json:"refresh,omitempty" yaml:"refresh,omitempty"`
	Retry      uint32 `json:"retry,omitempty" yaml:"retry,omitempty"`
	Expire     uint32 `json:"expire,omitempty" yaml:"expire,omitempty"`
	Minimum    uint32 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
}

// DNSRecord is one resource record. Name is relative to the zone ("@" for
// the apex) unless it ends with a dot.
type DNSRecord struct {
	Name     string  `json:"name" yaml:"name"`
	Type     string  `json:"type" yaml:"type"`
	TTL      uint32  `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Value    string  `json:"value" yaml:"value"`
	Priority *uint16 `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// CronJobSpec is one line in a system user's crontab
type CronJobSpec struct {
	User     string `json:"user" yaml:"user"`
	Schedule string `json:"schedule" yaml:"schedule"`
	Command  string `json:"command" yaml:"command"`
}

// VHostSpec describes a web server virtual host rendered from a named template
type VHostSpec struct {
	Domain   string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	DocRoot  string `json:"docroot" yaml:"docroot"`
	CertPath string `json:"cert_path,omitempty" yaml:"cert_path,omitempty"`

	// PHP holds per-domain overrides written to <docroot>/.user.ini
	PHP map[string]string `json:"php,omitempty" yaml:"php,omitempty"`
}

// SSLCertSpec requests a certificate for a domain and its alternative names
type SSLCertSpec struct {
	Domain  string   `json:"domain,omitempty" yaml:"domain,omitempty"`
	Email   string   `json:"email" yaml:"email"`
	SANs    []string `json:"sans,omitempty" yaml:"sans,omitempty"`
	Webroot string   `json:"webroot,omitempty" yaml:"webroot,omitempty"`
	Staging bool     `json:"staging,omitempty" yaml:"staging,omitempty"`
}

// ContainerStackSpec is a compose project managed through the container engine CLI
type ContainerStackSpec struct {
	Project string            `json:"project,omitempty" yaml:"project,omitempty"`
	Compose string            `json:"compose" yaml:"compose"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}
