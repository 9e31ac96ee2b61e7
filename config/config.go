// Package config resolves relay rules into endpoint descriptors. Rules come
// from an INI-style file, one section per rule, or from command-line flags
// which form a single anonymous rule. Resolution is pure: no sockets are
// opened and no files are touched here.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/caesar0301/relogger/endpoint"
	"github.com/caesar0301/relogger/errors"
)

// CLIRuleName names the rule assembled from command-line flags.
const CLIRuleName = "commandline"

// Rule is one named relay flow description: every record read from any
// source is forwarded to every sink.
type Rule struct {
	Name    string
	Sources []endpoint.Descriptor
	Sinks   []endpoint.Descriptor
}

// Options carries the flag values that describe a single relay rule on the
// command line.
type Options struct {
	ListenHosts string // -s comma-separated host[:port] listen list
	ListenPorts string // -p comma-separated localhost port shorthand
	ReadFile    string // -r replay file, or -f with Follow set
	Follow      bool   // tail the file instead of replaying it
	DestHosts   string // -d comma-separated host[:port] destination list
	WriteFile   string // -w file to append to
	SourceProto string // transport for listen sources, udp or tcp
	DestProto   string // transport for socket destinations, udp or tcp
}

// sectionHeader matches an INI section line, used only to detect duplicate
// rule names which the parser would otherwise merge silently.
var sectionHeader = regexp.MustCompile(`^\s*\[([^\]]+)\]\s*$`)

// LoadFile parses a rule file and resolves every section into a Rule. The
// directory of the file anchors relative file paths.
func LoadFile(path string) ([]Rule, error) {
	if err := rejectDuplicateSections(path); err != nil {
		return nil, err
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "LoadFile", "file parse")
	}
	baseDir := filepath.Dir(path)

	var rules []Rule
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		rule, err := resolveSection(section, baseDir)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if len(rules) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no rules in %s", path),
			"config", "LoadFile", "rule validation")
	}
	if err := CheckLoops(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// rejectDuplicateSections scans the raw file for repeated section headers.
// The INI parser merges duplicates, which would silently combine two rules.
func rejectDuplicateSections(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.WrapInvalid(err, "config", "LoadFile", "file open")
	}
	defer func() { _ = f.Close() }()

	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := sectionHeader.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if seen[name] {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate rule name: %s", name),
				"config", "LoadFile", "rule validation")
		}
		seen[name] = true
	}
	if err := scanner.Err(); err != nil {
		return errors.WrapInvalid(err, "config", "LoadFile", "file scan")
	}
	return nil
}

// resolveSection turns one INI section into a Rule.
func resolveSection(section *ini.Section, baseDir string) (Rule, error) {
	name := section.Name()
	get := func(key string) string {
		return strings.TrimSpace(section.Key(key).String())
	}

	srcProto, err := normalizeProto(name, get("src.proto"))
	if err != nil {
		return Rule{}, err
	}
	dstProto, err := normalizeProto(name, get("dst.proto"))
	if err != nil {
		return Rule{}, err
	}
	follow := section.Key("src.follow").MustBool(false)

	var sources []endpoint.Descriptor
	if v := get("src.host"); v != "" {
		descs, err := endpoint.ResolveHosts(endpoint.KindListen, srcProto, v)
		if err != nil {
			return Rule{}, ruleErr(name, err)
		}
		sources = append(sources, descs...)
	}
	if v := get("src.port"); v != "" {
		descs, err := endpoint.ResolvePorts(srcProto, v)
		if err != nil {
			return Rule{}, ruleErr(name, err)
		}
		sources = append(sources, descs...)
	}
	if v := get("src.file"); v != "" {
		desc, err := endpoint.ResolveFile(endpoint.KindReadFile, v, baseDir, follow)
		if err != nil {
			return Rule{}, ruleErr(name, err)
		}
		sources = append(sources, desc)
	}

	var sinks []endpoint.Descriptor
	if v := get("dst.host"); v != "" {
		descs, err := endpoint.ResolveHosts(endpoint.KindConnect, dstProto, v)
		if err != nil {
			return Rule{}, ruleErr(name, err)
		}
		sinks = append(sinks, descs...)
	}
	if v := get("dst.file"); v != "" {
		desc, err := endpoint.ResolveFile(endpoint.KindWriteFile, v, baseDir, false)
		if err != nil {
			return Rule{}, ruleErr(name, err)
		}
		sinks = append(sinks, desc)
	}
	if v := get("dst.nats"); v != "" {
		desc, err := endpoint.ResolveURL(endpoint.KindNATS, v)
		if err != nil {
			return Rule{}, ruleErr(name, err)
		}
		sinks = append(sinks, desc)
	}
	if v := get("dst.redis"); v != "" {
		desc, err := endpoint.ResolveURL(endpoint.KindRedis, v)
		if err != nil {
			return Rule{}, ruleErr(name, err)
		}
		sinks = append(sinks, desc)
	}

	return validateRule(Rule{Name: name, Sources: sources, Sinks: sinks})
}

// FromOptions assembles the single command-line rule. Relative file paths
// resolve against the working directory.
func FromOptions(opts Options) (Rule, error) {
	srcProto, err := normalizeProto(CLIRuleName, opts.SourceProto)
	if err != nil {
		return Rule{}, err
	}
	dstProto, err := normalizeProto(CLIRuleName, opts.DestProto)
	if err != nil {
		return Rule{}, err
	}

	var sources []endpoint.Descriptor
	if opts.ListenHosts != "" {
		descs, err := endpoint.ResolveHosts(endpoint.KindListen, srcProto, opts.ListenHosts)
		if err != nil {
			return Rule{}, ruleErr(CLIRuleName, err)
		}
		sources = append(sources, descs...)
	}
	if opts.ListenPorts != "" {
		descs, err := endpoint.ResolvePorts(srcProto, opts.ListenPorts)
		if err != nil {
			return Rule{}, ruleErr(CLIRuleName, err)
		}
		sources = append(sources, descs...)
	}
	if opts.ReadFile != "" {
		desc, err := endpoint.ResolveFile(endpoint.KindReadFile, opts.ReadFile, "", opts.Follow)
		if err != nil {
			return Rule{}, ruleErr(CLIRuleName, err)
		}
		sources = append(sources, desc)
	}

	var sinks []endpoint.Descriptor
	if opts.DestHosts != "" {
		descs, err := endpoint.ResolveHosts(endpoint.KindConnect, dstProto, opts.DestHosts)
		if err != nil {
			return Rule{}, ruleErr(CLIRuleName, err)
		}
		sinks = append(sinks, descs...)
	}
	if opts.WriteFile != "" {
		desc, err := endpoint.ResolveFile(endpoint.KindWriteFile, opts.WriteFile, "", false)
		if err != nil {
			return Rule{}, ruleErr(CLIRuleName, err)
		}
		sinks = append(sinks, desc)
	}

	rule, err := validateRule(Rule{Name: CLIRuleName, Sources: sources, Sinks: sinks})
	if err != nil {
		return Rule{}, err
	}
	if err := CheckLoops([]Rule{rule}); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// validateRule enforces that a rule reads from somewhere and writes to
// somewhere before the flow table is built.
func validateRule(rule Rule) (Rule, error) {
	if len(rule.Sources) == 0 {
		return Rule{}, errors.WrapInvalid(
			fmt.Errorf("rule %q has no sources", rule.Name),
			"config", "validateRule", "source validation")
	}
	if len(rule.Sinks) == 0 {
		return Rule{}, errors.WrapInvalid(
			fmt.Errorf("rule %q has no destinations", rule.Name),
			"config", "validateRule", "destination validation")
	}
	return rule, nil
}

// CheckLoops rejects any rule that would feed one of its own sources,
// which on a live socket would relay records back to itself forever.
func CheckLoops(rules []Rule) error {
	for _, rule := range rules {
		listens := make(map[string]bool)
		for _, src := range rule.Sources {
			listens[loopKey(src)] = true
		}
		for _, dst := range rule.Sinks {
			if listens[loopKey(dst)] {
				return errors.WrapInvalid(
					fmt.Errorf("rule %q relays to its own source %s", rule.Name, dst),
					"config", "CheckLoops", "loop detection")
			}
		}
	}
	return nil
}

// loopKey identifies the concrete resource behind a descriptor regardless
// of direction, so a listen and a connect on the same address collide.
func loopKey(d endpoint.Descriptor) string {
	switch d.Kind {
	case endpoint.KindListen, endpoint.KindConnect:
		return d.Network + "|" + normalizeLoopback(d.Address)
	case endpoint.KindReadFile, endpoint.KindWriteFile:
		return "file|" + d.Path
	default:
		return d.String()
	}
}

// normalizeLoopback folds the common loopback spellings together so
// localhost:514 and 127.0.0.1:514 count as the same endpoint.
func normalizeLoopback(addr string) string {
	return strings.Replace(addr, "localhost:", "127.0.0.1:", 1)
}

// normalizeProto defaults an empty transport to udp and rejects anything
// other than udp or tcp.
func normalizeProto(rule, proto string) (string, error) {
	proto = strings.ToLower(strings.TrimSpace(proto))
	if proto == "" {
		return "udp", nil
	}
	if proto != "udp" && proto != "tcp" {
		return "", errors.WrapInvalid(
			fmt.Errorf("rule %q: unsupported transport %q", rule, proto),
			"config", "normalizeProto", "transport validation")
	}
	return proto, nil
}

// ruleErr prefixes a resolution error with the offending rule name.
func ruleErr(name string, err error) error {
	return errors.WrapInvalid(
		fmt.Errorf("rule %q: %w", name, err),
		"config", "resolveSection", "rule resolution")
}
