package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Certificate issuance tools
const (
	CertToolCertbot = "certbot"
	CertToolWinAcme = "win-acme"
)

// DefaultTemplateName is used when a vhost spec names no template
const DefaultTemplateName = "default"

// DefaultVHostTemplate backs the "default" template when none is configured
const DefaultVHostTemplate = `<VirtualHost *:80>
    ServerName {DOMAIN}
    ServerAlias www.{DOMAIN}
    DocumentRoot {DOCROOT}

    <Directory {DOCROOT}>
        AllowOverride All
        Require all granted
    </Directory>
</VirtualHost>
`

// Config holds the host paths and commands the renderers emit. Nothing in
// this package hard-codes a path so the same build serves Linux and Windows
// hosts.
type Config struct {
	ZoneDir    string   `mapstructure:"zone_dir" yaml:"zone_dir" default:"/etc/bind/zones"`
	ZoneReload []string `mapstructure:"zone_reload" yaml:"zone_reload"`
	DefaultTTL uint32   `mapstructure:"default_ttl" yaml:"default_ttl" default:"3600"`

	VHostDir     string   `mapstructure:"vhost_dir" yaml:"vhost_dir" default:"/etc/apache2/sites-enabled"`
	VHostReload  []string `mapstructure:"vhost_reload" yaml:"vhost_reload"`
	TemplatesDir string   `mapstructure:"templates_dir" yaml:"templates_dir"`
	UserINI      bool     `mapstructure:"user_ini" yaml:"user_ini" default:"true"`

	// VHostTemplates maps template names to template text. It is filled
	// from TemplatesDir by LoadTemplates.
	VHostTemplates map[string]string `mapstructure:"-" yaml:"-"`

	CertTool       string `mapstructure:"cert_tool" yaml:"cert_tool" default:"certbot"`
	CertbotPath    string `mapstructure:"certbot_path" yaml:"certbot_path" default:"certbot"`
	WinAcmePath    string `mapstructure:"win_acme_path" yaml:"win_acme_path" default:"wacs.exe"`
	CertLiveDir    string `mapstructure:"cert_live_dir" yaml:"cert_live_dir" default:"/etc/letsencrypt/live"`
	DefaultWebroot string `mapstructure:"default_webroot" yaml:"default_webroot" default:"/var/www/html"`

	StackDir   string `mapstructure:"stack_dir" yaml:"stack_dir" default:"/srv/burrow/stacks"`
	DockerPath string `mapstructure:"docker_path" yaml:"docker_path" default:"docker"`
}

func (c Config) template(name string) (string, bool) {
	if name == "" {
		name = DefaultTemplateName
	}
	if text, ok := c.VHostTemplates[name]; ok {
		return text, true
	}
	if name == DefaultTemplateName {
		return DefaultVHostTemplate, true
	}
	return "", false
}

// LoadTemplates reads every regular file in dir as a vhost template named
// after the file without its extension
func LoadTemplates(dir string) (map[string]string, error) {
	templates := make(map[string]string)
	if dir == "" {
		return templates, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		templates[name] = string(data)
	}
	return templates, nil
}
