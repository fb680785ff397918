package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/szibis/logship/internal/compression"
	"github.com/szibis/logship/internal/endpoint"
	"github.com/szibis/logship/internal/transport"
)

const validationPrefix = "configuration validation failed:\n  - "

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	d := c.Destination
	switch d.Resolver {
	case ResolverStatic:
		if len(endpoint.ParseList(d.Servers)) == 0 {
			add("servers must list at least one valid host:port, got %q", d.Servers)
		}
	case ResolverDNS:
		if d.DNS.Name == "" {
			add("dns-name is required for the dns resolver")
		}
	case ResolverZooKeeper:
		if strings.TrimSpace(d.ZooKeeper.Servers) == "" {
			add("zk-servers is required for the zookeeper resolver")
		}
		if !strings.HasPrefix(d.ZooKeeper.Path, "/") {
			add("zk-path must be an absolute znode path, got %q", d.ZooKeeper.Path)
		}
	case ResolverFile:
		if d.File == "" {
			add("servers-file is required for the file resolver")
		}
	default:
		add("resolver must be one of static, dns, zookeeper, file, got %q", d.Resolver)
	}

	if _, err := transport.ParseProtocol(d.Protocol); err != nil {
		add("protocol is invalid: %v", err)
	}
	if _, err := compression.ParseType(d.Compression); err != nil {
		add("compression is invalid: %v", err)
	}
	if d.TLS.Enabled && (d.TLS.CertFile == "") != (d.TLS.KeyFile == "") {
		add("tls-cert and tls-key must be set together")
	}
	if d.Auth.BasicUsername != "" && d.Auth.BearerToken != "" {
		add("auth-basic-username and auth-bearer-token are mutually exclusive")
	}

	if c.DefaultCategory == "" {
		add("category must not be empty")
	}
	if c.MemLimitRatio < 0 || c.MemLimitRatio > 1 {
		add("memlimit-ratio must be between 0.0 and 1.0, got %g", c.MemLimitRatio)
	}

	seen := map[string]bool{}
	for i, p := range c.Pipelines {
		switch {
		case p.Category == "":
			add("pipelines[%d].category is required", i)
		case seen[p.Category]:
			add("pipelines[%d].category %q is duplicated", i, p.Category)
		}
		seen[p.Category] = true
	}
	for _, category := range c.Categories() {
		opts := c.PipelineOptions(category, nil, nil)
		if err := opts.ValidateTuning(); err != nil {
			add("pipeline %q is invalid: %v", category, err)
		}
	}

	if t := c.Telemetry; t.Endpoint != "" && t.Protocol != "grpc" && t.Protocol != "http" {
		add("telemetry-protocol must be grpc or http, got %q", t.Protocol)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s%s", validationPrefix, strings.Join(errs, "\n  - "))
}

// ValidationSeverity indicates the severity of a validation issue.
type ValidationSeverity string

const (
	// SeverityError indicates a configuration error that prevents startup.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates a potential issue that won't prevent startup.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity `json:"severity"`
	Field    string             `json:"field"`
	Message  string             `json:"message"`
}

// ValidationResult holds the complete validation output.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file,omitempty"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// JSON returns the validation result as formatted JSON.
func (r *ValidationResult) JSON() string {
	data, _ := json.MarshalIndent(r, "", "  ")
	return string(data)
}

// Check validates c and collects warnings, for -validate.
func (c *Config) Check() *ValidationResult {
	result := &ValidationResult{Valid: true, File: c.ConfigFile}

	if err := c.Validate(); err != nil {
		result.Valid = false
		msg := err.Error()
		if strings.HasPrefix(msg, validationPrefix) {
			for _, item := range strings.Split(strings.TrimPrefix(msg, validationPrefix), "\n  - ") {
				field, message := parseValidationError(item)
				result.Issues = append(result.Issues, ValidationIssue{
					Severity: SeverityError,
					Field:    field,
					Message:  message,
				})
			}
		} else {
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityError,
				Field:    "config",
				Message:  msg,
			})
		}
	}

	addWarnings(c, result)
	return result
}

// parseValidationError extracts field and message from a validation error string.
// e.g. "batch-size must be positive" → field="batch-size"
func parseValidationError(s string) (string, string) {
	s = strings.TrimSpace(s)
	for _, sep := range []string{" must ", " is ", " and "} {
		if idx := strings.Index(s, sep); idx > 0 {
			field := s[:idx]
			if !strings.Contains(field, " ") {
				return field, s
			}
		}
	}
	return "config", s
}

// addWarnings checks for non-fatal issues that are worth flagging.
func addWarnings(c *Config, result *ValidationResult) {
	d := c.Destination
	proto, _ := transport.ParseProtocol(d.Protocol)

	if proto != transport.ProtocolScribe && d.Insecure && d.Resolver == ResolverStatic {
		for _, ep := range endpoint.ParseList(d.Servers) {
			if !isLocalhost(ep.Host) {
				result.Issues = append(result.Issues, ValidationIssue{
					Severity: SeverityWarning,
					Field:    "destination.insecure",
					Message:  fmt.Sprintf("insecure connection to non-localhost endpoint %q", ep.String()),
				})
				break
			}
		}
	}
	if proto == transport.ProtocolScribe && (d.Compression != "none" && d.Compression != "") {
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityWarning,
			Field:    "destination.compression",
			Message:  "compression is ignored by the scribe transport",
		})
	}
	if proto == transport.ProtocolScribe && (d.TLS.Enabled || d.Auth.BearerToken != "" || d.Auth.BasicUsername != "") {
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityWarning,
			Field:    "destination.tls",
			Message:  "tls and auth are ignored by the scribe transport",
		})
	}

	for _, category := range c.Categories() {
		p := c.PipelineFor(category)
		if p.BatchSize > p.QueueCapacity {
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityWarning,
				Field:    "pipelines." + category + ".batch_size",
				Message:  fmt.Sprintf("batch_size (%d) is larger than queue_capacity (%d)", p.BatchSize, p.QueueCapacity),
			})
		}
	}

	if d.TLS.Enabled {
		checkFileWarning(d.TLS.CertFile, "destination.tls.cert_file", result)
		checkFileWarning(d.TLS.KeyFile, "destination.tls.key_file", result)
		checkFileWarning(d.TLS.CAFile, "destination.tls.ca_file", result)
	}
	if d.Resolver == ResolverFile {
		checkFileWarning(d.File, "destination.file", result)
	}
}

func checkFileWarning(path, field string, result *ValidationResult) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityWarning,
			Field:    field,
			Message:  fmt.Sprintf("file not found: %s", path),
		})
	}
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
